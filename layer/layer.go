// Package layer implements the message layers that are stacked on top of each
// other before a message goes out on the stream.
//
// A message travels down the stack: the application text becomes a Payload,
// the Payload is enclosed in a Segmentation frame, and the frame is serialized
// into one byte block that is written to the socket. Received bytes travel up:
// the frame header is decoded, the body is kept as a Raw view into the receive
// buffer, and the Raw layer is reinterpreted as the expected upper layer.
//
// Layers either own their bytes or share them through a Capsule. No layer
// mutates shared bytes, so a Raw layer can be rewrapped one level up without
// copying.
package layer

// Layer is one level of the encoding stack.
//
// Size reports the exact number of bytes Encode writes. Encode writes those
// bytes into buf starting at off and returns the offset just past them. It
// touches no other position of buf. The caller guarantees that buf has at
// least Size bytes left at off.
//
// The set of layers is closed: Raw, *Payload and *Segmentation.
type Layer interface {
	Size() int
	Encode(buf []byte, off int) int

	sealed()
}

// Serialize returns the encoded form of l as a Raw layer backed by a fresh
// capsule. A Raw layer is returned as is.
func Serialize(l Layer) Raw {
	if r, ok := l.(Raw); ok {
		return r
	}

	c := NewCapsule(l.Size())
	l.Encode(c.block, 0)
	return Raw{capsule: c, off: 0, n: c.Len()}
}

// containing holds a reference to the single layer enclosed by a header
// carrying layer.
type containing struct {
	upper Layer
}

// Upper returns the enclosed layer.
func (c containing) Upper() Layer {
	return c.upper
}
