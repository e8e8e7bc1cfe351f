package layer

// Capsule is a handle to one contiguous byte block shared by every layer that
// holds a view into it. Copies of a Capsule share the block; the block stays
// alive for as long as any copy is reachable.
type Capsule struct {
	block []byte
}

// NewCapsule allocates a zeroed block of size bytes.
func NewCapsule(size int) Capsule {
	return Capsule{block: make([]byte, size)}
}

// WrapCapsule adopts b as the capsule's block without copying it.
// The caller must not modify b afterwards.
func WrapCapsule(b []byte) Capsule {
	return Capsule{block: b}
}

// Len returns the size of the block.
func (c Capsule) Len() int {
	return len(c.block)
}

// Bytes returns the whole block.
func (c Capsule) Bytes() []byte {
	return c.block
}

// slice returns the view [off, off+n) with its capacity capped at n, so an
// append through the view reallocates instead of overwriting the block.
func (c Capsule) slice(off, n int) []byte {
	return c.block[off : off+n : off+n]
}
