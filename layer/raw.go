package layer

import "github.com/pkg/errors"

// Raw is a view of not yet interpreted bytes, such as a frame body that was
// just read from the network.
type Raw struct {
	capsule Capsule
	off, n  int
}

// NewRaw returns a view of n bytes of c starting at off.
func NewRaw(c Capsule, off, n int) (Raw, error) {
	if off < 0 || n < 0 || off+n > c.Len() {
		return Raw{}, errors.Wrapf(ErrOutOfRange, "offset %d length %d capsule %d", off, n, c.Len())
	}
	return Raw{capsule: c, off: off, n: n}, nil
}

// RawBytes wraps b as a Raw layer without copying.
func RawBytes(b []byte) Raw {
	return Raw{capsule: WrapCapsule(b), n: len(b)}
}

func (r Raw) Size() int {
	return r.n
}

func (r Raw) Encode(buf []byte, off int) int {
	return off + copy(buf[off:off+r.n], r.Bytes())
}

// Bytes returns the viewed bytes. The slice shares the capsule's block and
// must not be modified.
func (r Raw) Bytes() []byte {
	if r.capsule.block == nil {
		return nil
	}
	return r.capsule.slice(r.off, r.n)
}

// Capsule returns the capsule keeping the viewed bytes alive.
func (r Raw) Capsule() Capsule {
	return r.capsule
}

func (Raw) sealed() {}
