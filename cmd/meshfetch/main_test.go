package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/meshfetch/internal/fetch"
	"github.com/jmerrifield20/meshfetch/internal/transport"
)

func TestExitCode(t *testing.T) {
	client, err := fetch.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, fetchErr := client.Fetch(context.Background(), "not-hex")
	if fetchErr == nil {
		t.Fatal("expected invalid address error")
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fetch error", fetchErr, 2},
		{"wrapped fetch error", fmt.Errorf("fetch not-hex (%s): %w", fetch.KindOf(fetchErr), fetchErr), 2},
		{"config error", errors.New("read config: boom"), 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWriteResult(t *testing.T) {
	res := fetch.ParseResponse([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<h1>hi</h1>"), "/")

	t.Run("body to writer", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeResult(&buf, res, "body", ""); err != nil {
			t.Fatal(err)
		}
		if buf.String() != "<h1>hi</h1>" {
			t.Errorf("body: got %q", buf.String())
		}
	})

	t.Run("body to file", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "page.html")
		var buf bytes.Buffer
		if err := writeResult(&buf, res, "", out); err != nil {
			t.Fatal(err)
		}
		if buf.Len() != 0 {
			t.Errorf("stdout should stay empty, got %q", buf.String())
		}
		b, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "<h1>hi</h1>" {
			t.Errorf("file: got %q", b)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeResult(&buf, res, "json", ""); err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if got["content_type"] != "text/html" || got["encoding"] != "base64" {
			t.Errorf("json: got %v", got)
		}
		if got["status_code"] != float64(200) {
			t.Errorf("status_code: got %v", got["status_code"])
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := writeResult(&bytes.Buffer{}, res, "xml", ""); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestPrintIdentity(t *testing.T) {
	id := transport.Identity{PublicKey: []byte("node-public-key")}
	dest := transport.Destination{Identity: id, AppName: "rserver", Aspects: []string{"web"}}

	var buf bytes.Buffer
	printIdentity(&buf, id, "rserver", []string{"web"})
	out := buf.String()

	for _, want := range []string{
		fmt.Sprintf("%x", id.Hash()),
		"rserver.web",
		fmt.Sprintf("%x", dest.Hash()),
		fmt.Sprintf("%x", dest.FullHash()),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
