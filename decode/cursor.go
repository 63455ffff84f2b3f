package decode

import "github.com/pkg/errors"

// A Cursor consumes bits front-to-back from an append-only buffer by index,
// avoiding repeated shifting of the underlying slice.
type Cursor struct {
	bits []byte
	pos  int
}

func NewCursor(bits []byte) *Cursor {
	return &Cursor{bits: bits}
}

// Remaining returns the number of unconsumed bits.
func (c *Cursor) Remaining() int {
	return len(c.bits) - c.pos
}

// Take consumes n bits most-significant first.
func (c *Cursor) Take(n int) (uint64, error) {
	if c.Remaining() < n {
		return 0, errors.Wrapf(ErrFrameIncomplete, "want %d bits, have %d", n, c.Remaining())
	}

	var v uint64
	for idx := 0; idx < n; idx++ {
		v = v<<1 | uint64(c.bits[c.pos+idx])
	}
	c.pos += n

	return v, nil
}

// TakeLSB consumes n bits least-significant first.
func (c *Cursor) TakeLSB(n int) (uint64, error) {
	if c.Remaining() < n {
		return 0, errors.Wrapf(ErrFrameIncomplete, "want %d bits, have %d", n, c.Remaining())
	}

	var v uint64
	for idx := 0; idx < n; idx++ {
		v |= uint64(c.bits[c.pos+idx]) << uint(idx)
	}
	c.pos += n

	return v, nil
}
