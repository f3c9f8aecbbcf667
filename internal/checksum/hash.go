package checksum

import (
	"github.com/cespare/xxhash/v2"
	"github.com/minio/highwayhash"
)

// Hash returns uint64 xxhash checksum of data. This is the only 64-bit hash
// function used. We try to be as close as we can with prometheus, which also
// uses xxhash.
func Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// U128 is a 128-bit content hash.
type U128 [16]byte

// fixed highwayhash key, changing this invalidates persisted hashes.
var key [32]byte

// Sum128 returns the highwayhash U128 checksum of data.
func Sum128(data []byte) (h U128) {
	sum := highwayhash.Sum128(data, key[:])
	copy(h[:], sum[:])
	return
}

// Sum128Concat hashes all chunks as one logical stream.
func Sum128Concat(chunks ...[]byte) (h U128) {
	hh, err := highwayhash.New128(key[:])
	if err != nil {
		panic("checksum: invalid highwayhash key")
	}
	for _, c := range chunks {
		hh.Write(c)
	}
	copy(h[:], hh.Sum(nil))
	return
}
