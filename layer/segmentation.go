package layer

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Frame header layout.
const (
	// HeaderLen is the fixed length of a frame header.
	HeaderLen = 4
	// Tag is the first byte of every frame.
	Tag byte = 0x80
	// MaxFrameSize is the largest frame the 16-bit size field can describe.
	MaxFrameSize = math.MaxUint16
	// DefaultMaxFrameSize is the default policy limit for inbound frames.
	DefaultMaxFrameSize = 0x8FFF
)

// Header is a decoded frame header.
type Header struct {
	// FrameSize is the total frame size, header included.
	FrameSize uint16
}

// DecodeHeader decodes and validates the first HeaderLen bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	if b[0] != Tag {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "tag byte %#02x", b[0])
	}
	if b[3] != 0 {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "reserved byte %#02x", b[3])
	}
	return Header{FrameSize: binary.BigEndian.Uint16(b[1:3])}, nil
}

// Check validates the declared frame size against maxFrameSize.
func (h Header) Check(maxFrameSize int) error {
	if int(h.FrameSize) > maxFrameSize {
		return errors.Wrapf(ErrOversizedPacket, "frame size %d exceeds %d", h.FrameSize, maxFrameSize)
	}
	if int(h.FrameSize) < HeaderLen {
		return errors.Wrapf(ErrUndersizedPacket, "frame size %d", h.FrameSize)
	}
	return nil
}

// BodyLen returns the number of body bytes following the header.
func (h Header) BodyLen() int {
	return int(h.FrameSize) - HeaderLen
}

// Segmentation frames its enclosed layer so that it can be delimited on a
// byte stream.
type Segmentation struct {
	containing
	size int
}

// NewSegmentation encloses upper in a frame.
func NewSegmentation(upper Layer) (*Segmentation, error) {
	size := HeaderLen + upper.Size()
	if size > MaxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "frame size %d", size)
	}
	return &Segmentation{containing: containing{upper: upper}, size: size}, nil
}

// Body returns the enclosed layer as raw bytes. For a received frame this is
// the body view itself; no copy is made.
func (s *Segmentation) Body() Raw {
	return Serialize(s.upper)
}

func (s *Segmentation) Size() int {
	return s.size
}

func (s *Segmentation) Encode(buf []byte, off int) int {
	buf[off] = Tag
	binary.BigEndian.PutUint16(buf[off+1:off+3], uint16(s.size))
	buf[off+3] = 0
	return s.upper.Encode(buf, off+HeaderLen)
}

func (*Segmentation) sealed() {}

// ReadFrame reads one complete frame from r. The body is read into a fresh
// capsule only after the header passed validation.
//
// An error before the first header byte is returned as is. Any later read
// error is returned as a *TruncatedError.
func ReadFrame(r io.Reader, maxFrameSize int) (*Segmentation, error) {
	var hb [HeaderLen]byte
	if n, err := io.ReadFull(r, hb[:]); err != nil {
		if n == 0 {
			return nil, err
		}
		return nil, &TruncatedError{Read: n, Err: err}
	}

	h, err := DecodeHeader(hb[:])
	if err != nil {
		return nil, err
	}
	if err = h.Check(maxFrameSize); err != nil {
		return nil, err
	}

	body := NewCapsule(h.BodyLen())
	if n, err := io.ReadFull(r, body.block); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, &TruncatedError{Read: HeaderLen + n, Err: err}
	}
	return &Segmentation{
		containing: containing{upper: Raw{capsule: body, n: body.Len()}},
		size:       int(h.FrameSize),
	}, nil
}

// DecodeFrame decodes the frame at the start of b and returns it along with
// the number of bytes it occupied. The body shares b.
func DecodeFrame(b []byte, maxFrameSize int) (*Segmentation, int, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, 0, err
	}
	if err = h.Check(maxFrameSize); err != nil {
		return nil, 0, err
	}
	if len(b) < int(h.FrameSize) {
		return nil, 0, errors.Wrapf(io.ErrUnexpectedEOF, "frame size %d, have %d bytes", h.FrameSize, len(b))
	}

	body := Raw{capsule: WrapCapsule(b), off: HeaderLen, n: h.BodyLen()}
	return &Segmentation{containing: containing{upper: body}, size: int(h.FrameSize)}, int(h.FrameSize), nil
}
