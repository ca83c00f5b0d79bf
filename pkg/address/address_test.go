package address_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jmerrifield20/meshfetch/pkg/address"
)

const (
	id16 = "a5f72aefc2cb3cdba648f73f77c4e887"
	id32 = "a5f72aefc2cb3cdba648f73f77c4e887a5f72aefc2cb3cdba648f73f77c4e887"
)

func TestParse_valid(t *testing.T) {
	cases := []struct {
		input   string
		wantLen int
		path    string
	}{
		{input: id16, wantLen: 16, path: "/"},
		{input: id16 + "/", wantLen: 16, path: "/"},
		{input: id16 + "/index.html", wantLen: 16, path: "/index.html"},
		{input: id32 + "/docs/guide.mu", wantLen: 32, path: "/docs/guide.mu"},
		{input: strings.ToUpper(id16) + "/a/b/c?x=1", wantLen: 16, path: "/a/b/c?x=1"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			a, err := address.Parse(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Destination.Len() != tc.wantLen {
				t.Errorf("Destination.Len(): got %d, want %d", a.Destination.Len(), tc.wantLen)
			}
			if a.Path != tc.path {
				t.Errorf("Path: got %q, want %q", a.Path, tc.path)
			}
		})
	}
}

func TestParse_pathRoundTrip(t *testing.T) {
	paths := []string{"", "index.html", "a/b", "x.json", "dir/", "with space/ü.txt"}
	for _, id := range []string{id16, id32} {
		for _, p := range paths {
			a, err := address.Parse(id + "/" + p)
			if err != nil {
				t.Fatalf("Parse(%q): %v", id+"/"+p, err)
			}
			if a.Path != "/"+p {
				t.Errorf("path: got %q, want %q", a.Path, "/"+p)
			}
		}
	}
}

func TestParse_invalid(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"empty id":         "/index.html",
		"non-hex":          "zz f72aefc2cb3cdba648f73f77c4e887",
		"non-hex letters":  "g5f72aefc2cb3cdba648f73f77c4e887",
		"odd digits":       id16[:31],
		"15 bytes":         id16[:30],
		"17 bytes":         id16 + "aa",
		"31 bytes":         id32[:62],
		"33 bytes":         id32 + "00",
		"1 byte":           "ab/index.html",
		"hex with 0x":      "0x" + id16[2:],
		"trailing garbage": id16 + "-/x",
	}

	for name, input := range cases {
		input := input
		t.Run(name, func(t *testing.T) {
			_, err := address.Parse(input)
			if err == nil {
				t.Fatalf("expected error for %q, got nil", input)
			}
			if !errors.Is(err, address.ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestDestinationID_immutable(t *testing.T) {
	a := address.MustParse(id16)
	b := a.Destination.Bytes()
	b[0] ^= 0xff

	if a.Destination.Hex() != id16 {
		t.Errorf("mutating Bytes() leaked into DestinationID: %s", a.Destination.Hex())
	}
}

func TestDestinationID_Equal(t *testing.T) {
	a := address.MustParse(id16)
	b := address.MustParse(strings.ToUpper(id16) + "/other")
	c := address.MustParse(id32)

	if !a.Destination.Equal(b.Destination) {
		t.Error("expected equal destinations")
	}
	if a.Destination.Equal(c.Destination) {
		t.Error("16- and 32-byte ids must not be equal")
	}
}

func TestAddress_String(t *testing.T) {
	a := address.MustParse(strings.ToUpper(id16) + "/index.html")
	if got, want := a.String(), id16+"/index.html"; got != want {
		t.Errorf("String(): got %q, want %q", got, want)
	}
}

func TestNewDestinationID_length(t *testing.T) {
	if _, err := address.NewDestinationID(make([]byte, 20)); !errors.Is(err, address.ErrInvalid) {
		t.Errorf("expected ErrInvalid for 20 bytes, got %v", err)
	}
	if _, err := address.NewDestinationID(make([]byte, 32)); err != nil {
		t.Errorf("32 bytes: unexpected error %v", err)
	}
}
