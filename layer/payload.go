package layer

import (
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

// CodeUnitSize is the fixed width in bytes of one encoded text code unit.
const CodeUnitSize = 2

// textEncoding is the fixed-width payload encoding: UTF-16 code units in
// network byte order, without a byte order mark.
var textEncoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Payload is a text message. It has no header of its own; the enclosing frame
// bounds its length.
type Payload struct {
	text    string
	encoded []byte
}

// NewPayload encodes text into its wire form.
func NewPayload(text string) (*Payload, error) {
	encoded, err := textEncoding.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return &Payload{text: text, encoded: encoded}, nil
}

// DecodePayload reinterprets r as a text payload. The Payload shares r's bytes.
func DecodePayload(r Raw) (*Payload, error) {
	b := r.Bytes()
	text, err := textEncoding.NewDecoder().Bytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	return &Payload{text: string(text), encoded: b}, nil
}

// Text returns the message text.
func (p *Payload) Text() string {
	return p.text
}

func (p *Payload) Size() int {
	return len(p.encoded)
}

func (p *Payload) Encode(buf []byte, off int) int {
	return off + copy(buf[off:off+len(p.encoded)], p.encoded)
}

func (*Payload) sealed() {}
