package layer

import (
	"errors"
	"fmt"
)

// Errors returned while building or decoding layers.
var (
	// ErrMalformedHeader is returned when a frame header carries the wrong tag
	// byte or a non-zero reserved byte.
	ErrMalformedHeader = errors.New("malformed frame header")
	// ErrOversizedPacket is returned when a header declares a frame larger than
	// the configured maximum.
	ErrOversizedPacket = errors.New("oversized packet")
	// ErrUndersizedPacket is returned when a header declares a frame smaller
	// than the header itself.
	ErrUndersizedPacket = errors.New("undersized packet")
	// ErrFrameTooLarge is returned when an enclosed layer does not fit the
	// 16-bit size field of a frame.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrOutOfRange is returned when a view does not fit inside its capsule.
	ErrOutOfRange = errors.New("view out of capsule range")
	// ErrShortHeader is returned when fewer than HeaderLen bytes are available.
	ErrShortHeader = errors.New("short frame header")
	// ErrTruncatedFrame matches every TruncatedError.
	ErrTruncatedFrame = errors.New("truncated frame")
)

// TruncatedError is returned by ReadFrame when reading stopped after part of
// a frame was consumed. The stream is no longer aligned on a frame boundary.
type TruncatedError struct {
	// Read is the number of frame bytes consumed, header included.
	Read int
	Err  error
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("truncated frame after %d bytes: %v", e.Read, e.Err)
}

func (e *TruncatedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTruncatedFrame.
func (e *TruncatedError) Is(target error) bool { return target == ErrTruncatedFrame }
