// Package textenc converts raw expansion output into the UTF-8 text the
// compiler service accepts.
//
// Conversion never corrupts silently: after decoding, the result is encoded
// back and compared with the input, and any difference is reported as
// diag.EncodingLoss with the offending byte offset.
package textenc

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/roach88/xpand/internal/diag"
)

// Encoding labels understood without consulting the WHATWG index.
const (
	Auto    = "auto"
	UTF8    = "utf-8"
	UTF16   = "utf-16"
	UTF16LE = "utf-16le"
	UTF16BE = "utf-16be"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Normalized is expansion output re-encoded as UTF-8.
type Normalized struct {
	// Text is the payload in UTF-8, without a byte-order mark.
	Text []byte

	// Encoding is the canonical label of the source encoding.
	Encoding string

	// BOM records whether the source started with a byte-order mark.
	BOM bool
}

type codec struct {
	name string
	enc  encoding.Encoding
	bom  []byte
}

// Detect guesses the encoding of data from its byte-order mark, falling
// back to UTF-8.
func Detect(data []byte) string {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return UTF8
	case bytes.HasPrefix(data, bomUTF16LE):
		return UTF16LE
	case bytes.HasPrefix(data, bomUTF16BE):
		return UTF16BE
	default:
		return UTF8
	}
}

// Canonical validates an encoding label and returns its canonical name.
// "auto" and "utf-16" are accepted as is.
func Canonical(label string) (string, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	switch l {
	case "", Auto:
		return Auto, nil
	case UTF16:
		// Endianness is only known once the payload's BOM is seen.
		return UTF16, nil
	}
	c, err := resolve(l, nil)
	if err != nil {
		return "", err
	}
	return c.name, nil
}

func resolve(label string, data []byte) (*codec, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	switch l {
	case "", Auto:
		return resolve(Detect(data), data)
	case UTF8, "utf8":
		return &codec{name: UTF8, enc: unicode.UTF8, bom: bomUTF8}, nil
	case UTF16LE:
		return &codec{name: UTF16LE, enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), bom: bomUTF16LE}, nil
	case UTF16BE:
		return &codec{name: UTF16BE, enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), bom: bomUTF16BE}, nil
	case UTF16:
		// Without a BOM, assume the little-endian output Windows shells write.
		if bytes.HasPrefix(data, bomUTF16BE) {
			return resolve(UTF16BE, data)
		}
		return resolve(UTF16LE, data)
	}

	enc, err := htmlindex.Get(l)
	if err != nil {
		return nil, diag.New(diag.ConfigurationError, "unknown source encoding %q", label)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = l
	}
	switch name {
	case UTF8, UTF16LE, UTF16BE:
		return resolve(name, data)
	}
	return &codec{name: name, enc: enc}, nil
}

// Normalize decodes data under the given encoding label and returns it as
// UTF-8. Empty input yields empty output.
//
// Unknown labels are diag.ConfigurationError; input that does not survive
// the round trip is diag.EncodingLoss.
func Normalize(data []byte, label string) (*Normalized, error) {
	c, err := resolve(label, data)
	if err != nil {
		return nil, err
	}

	n := &Normalized{Text: []byte{}, Encoding: c.name}
	if len(data) == 0 {
		return n, nil
	}

	body := data
	if len(c.bom) > 0 && bytes.HasPrefix(body, c.bom) {
		n.BOM = true
		body = body[len(c.bom):]
	}
	offset := len(data) - len(body)

	text, _, err := transform.Bytes(c.enc.NewDecoder(), body)
	if err != nil {
		return nil, &diag.Error{
			Code:    diag.EncodingLoss,
			Message: "decoding " + c.name + " payload",
			Err:     err,
		}
	}

	back, _, err := transform.Bytes(c.enc.NewEncoder(), text)
	if err != nil || !bytes.Equal(back, body) {
		return nil, diag.New(diag.EncodingLoss,
			"%s payload is not representable in %s at byte offset %d",
			c.name, UTF8, offset+firstDiff(back, body))
	}

	n.Text = text
	return n, nil
}

// Denormalize encodes n back into its source encoding, restoring the
// byte-order mark when the source had one. It inverts Normalize exactly.
func Denormalize(n *Normalized) ([]byte, error) {
	c, err := resolve(n.Encoding, nil)
	if err != nil {
		return nil, err
	}
	out, _, err := transform.Bytes(c.enc.NewEncoder(), n.Text)
	if err != nil {
		return nil, diag.Wrap(diag.EncodingLoss, "encoding to "+c.name, err)
	}
	if n.BOM {
		out = append(append([]byte{}, c.bom...), out...)
	}
	return out, nil
}

func firstDiff(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
