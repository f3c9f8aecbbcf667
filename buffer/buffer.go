// Package buffer pools the scratch byte slices used for reading whole region
// files and assembling expositions, keeping their capacity across uses.
package buffer

import "sync"

// Pool hands out reusable byte buffers. The zero value is ready to use.
type Pool struct {
	pool sync.Pool
}

func (p *Pool) Get() *B {
	b := p.pool.Get()
	if b != nil {
		return b.(*B)
	}
	return &B{}
}

// Put truncates b and returns it to the pool, capacity is retained.
func (p *Pool) Put(b *B) {
	b.B = b.B[:0]
	p.pool.Put(b)
}

// B wraps a byte slice so the pool can hand back the same allocation after
// append grew it.
type B struct {
	B []byte
}
