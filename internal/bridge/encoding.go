package bridge

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// codec converts file names between the host's encoding and UTF-8.
type codec struct {
	enc encoding.Encoding
}

// newCodec resolves label. An empty label or UTF-8 yields the identity codec.
func newCodec(label string) (codec, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return codec{}, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return codec{}, fmt.Errorf("unknown filename encoding %q: %w", label, err)
	}
	return codec{enc: enc}, nil
}

func (c codec) identity() bool { return c.enc == nil }

// decode converts a name received from the host to UTF-8.
func (c codec) decode(name string) string {
	if c.identity() {
		return name
	}
	s, err := c.enc.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return s
}

// encode converts a UTF-8 path to the host's encoding.
func (c codec) encode(p string) (string, error) {
	if c.identity() {
		return p, nil
	}
	s, err := c.enc.NewEncoder().String(p)
	if err != nil {
		return "", fmt.Errorf("encode %q: %w", p, err)
	}
	return s, nil
}
