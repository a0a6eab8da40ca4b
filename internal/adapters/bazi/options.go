package bazi

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Charset names accepted by ParseCharset.
const (
	CharsetUTF8    = "utf-8"
	CharsetCP1252  = "cp1252"
	CharsetLatin1  = "latin1"
	defaultCharset = CharsetUTF8
)

type codec struct {
	charset string
	enc     encoding.Encoding
}

func newCodec(opts []Option) (*codec, error) {
	c := &codec{charset: defaultCharset}
	for _, opt := range opts {
		opt(c)
	}
	enc, err := ParseCharset(c.charset)
	if err != nil {
		return nil, err
	}
	c.enc = enc
	return c, nil
}

// Option configures Encode and Decode.
type Option func(*codec)

// WithCharset sets the file encoding. The reference calculator reads
// Windows-1252 files on most installations.
func WithCharset(name string) Option {
	return func(c *codec) {
		if name != "" {
			c.charset = name
		}
	}
}

// ParseCharset resolves a charset name. A nil encoding means UTF-8 text is
// passed through untouched.
func ParseCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "cp1252", "windows-1252":
		return charmap.Windows1252, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, name)
	}
}
