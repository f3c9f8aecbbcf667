package magic

import "unsafe"

// Slice returns the bytes backing s without copying. The result must not be
// mutated.
func Slice(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// String returns b reinterpreted as a string without copying. The result is
// only valid while b is alive and unmodified, use it for transient lookups.
func String(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}
