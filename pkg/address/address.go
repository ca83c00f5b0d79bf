// Package address parses mesh page addresses.
//
// Address format: <destination-hex>[/<path>]
//
// Examples:
//
//	a5f72aefc2cb3cdba648f73f77c4e887                   (path defaults to "/")
//	a5f72aefc2cb3cdba648f73f77c4e887/index.html
//	a5f72aefc2cb3cdba648f73f77c4e887/docs/guide.mu
//
// The destination is the hex encoding of a 16-byte (truncated) or 32-byte
// (full) destination hash. Everything from the first "/" onward is the request
// path sent to the remote page server.
package address

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Valid destination identifier sizes in bytes.
const (
	TruncatedLen = 16
	FullLen      = 32
)

// ErrInvalid is wrapped by every error returned from Parse.
var ErrInvalid = errors.New("invalid address")

// DestinationID identifies a remote mesh endpoint. The zero value is not a
// valid id; obtain one from Parse or NewDestinationID.
type DestinationID struct {
	b []byte
}

// NewDestinationID copies b into a DestinationID after checking its length.
func NewDestinationID(b []byte) (DestinationID, error) {
	if len(b) != TruncatedLen && len(b) != FullLen {
		return DestinationID{}, fmt.Errorf("%w: destination must be %d or %d bytes, got %d",
			ErrInvalid, TruncatedLen, FullLen, len(b))
	}
	return DestinationID{b: bytes.Clone(b)}, nil
}

// Bytes returns a copy of the raw identifier.
func (d DestinationID) Bytes() []byte { return bytes.Clone(d.b) }

// Len returns the identifier length in bytes (0 for the zero value).
func (d DestinationID) Len() int { return len(d.b) }

// Hex returns the lowercase hex encoding.
func (d DestinationID) Hex() string { return hex.EncodeToString(d.b) }

// String implements fmt.Stringer.
func (d DestinationID) String() string { return d.Hex() }

// Equal reports whether both identifiers hold the same bytes.
func (d DestinationID) Equal(o DestinationID) bool { return bytes.Equal(d.b, o.b) }

// Address is a parsed destination + request path pair.
type Address struct {
	Destination DestinationID
	Path        string // always starts with "/"
}

// Parse splits raw on its first "/" into a destination id and a request path.
func Parse(raw string) (*Address, error) {
	idPart, path := split(raw)

	if idPart == "" {
		return nil, fmt.Errorf("%w: destination hash must not be empty", ErrInvalid)
	}
	if !isHex(idPart) {
		return nil, fmt.Errorf("%w: destination hash %q is not hexadecimal", ErrInvalid, idPart)
	}
	if len(idPart)%2 != 0 {
		return nil, fmt.Errorf("%w: destination hash %q has an odd number of hex digits", ErrInvalid, idPart)
	}

	b, err := hex.DecodeString(idPart)
	if err != nil {
		return nil, fmt.Errorf("%w: decode destination hash: %v", ErrInvalid, err)
	}
	id, err := NewDestinationID(b)
	if err != nil {
		return nil, err
	}

	return &Address{Destination: id, Path: path}, nil
}

// MustParse is like Parse but panics on error. Useful in tests and init blocks.
func MustParse(raw string) *Address {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical "<hex><path>" form.
func (a *Address) String() string {
	return a.Destination.Hex() + a.Path
}

func split(raw string) (id, path string) {
	i := strings.IndexByte(raw, '/')
	if i < 0 {
		return raw, "/"
	}
	return raw[:i], "/" + raw[i+1:]
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
