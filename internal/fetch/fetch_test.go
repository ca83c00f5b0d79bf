package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jmerrifield20/meshfetch/internal/transport"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PathDiscoveryTimeout = 50 * time.Millisecond
	cfg.PathPollInterval = 2 * time.Millisecond
	cfg.LinkPollInterval = time.Millisecond
	cfg.LinkPollAttempts = 5
	cfg.ResponseTimeout = 50 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, tr transport.Transport) *Client {
	t.Helper()
	c, err := New(tr, WithConfig(fastConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFetch_success(t *testing.T) {
	link := newFakeLink(transport.LinkPending, transport.LinkActive)
	link.onSend = replyWith([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<h1>mesh</h1>"))
	tr := newFakeTransport(link)

	c := newTestClient(t, tr)
	res, err := c.Fetch(context.Background(), testID+"/index.html")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if res.StatusCode != 200 || res.ContentType != "text/html" {
		t.Errorf("got status %d type %q", res.StatusCode, res.ContentType)
	}
	body, _ := res.Body()
	if string(body) != "<h1>mesh</h1>" {
		t.Errorf("body: got %q", body)
	}
	if got := string(link.sent[0]); got != string(BuildRequest(testDest(t), "/index.html", DefaultUserAgent)) {
		t.Errorf("request: got %q", got)
	}
	if n := link.teardowns.Load(); n != 1 {
		t.Errorf("teardowns: got %d, want 1", n)
	}
	if v := testutil.ToFloat64(linksOpen); v != 0 {
		t.Errorf("links open after fetch: got %v, want 0", v)
	}

	// The JSON shape callers serialize.
	b, _ := json.Marshal(res)
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"content", "content_type", "status_code", "encoding"} {
		if _, ok := m[k]; !ok {
			t.Errorf("JSON missing %q: %s", k, b)
		}
	}
}

func TestFetch_invalidAddress(t *testing.T) {
	tr := newFakeTransport(newFakeLink())
	c := newTestClient(t, tr)

	for _, url := range []string{"", "xyz/index.html", "abcd", testID + "aa"} {
		_, err := c.Fetch(context.Background(), url)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Fetch(%q): expected InvalidAddress, got %v", url, err)
		}
	}
	if tr.requests != 0 {
		t.Errorf("transport touched for invalid addresses: %d route requests", tr.requests)
	}
}

func TestFetch_nilTransport(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Fetch(context.Background(), testID)
	if KindOf(err) != TransportError {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

// Every stage fails in turn; whenever a link was opened it must be torn
// down exactly once and the open-link gauge must return to zero.
func TestFetch_teardownExactlyOnce(t *testing.T) {
	cases := []struct {
		name         string
		setup        func(tr *fakeTransport, l *fakeLink)
		want         Kind
		wantOpened   bool
		wantTeardown int32
	}{
		{
			name:  "no path",
			setup: func(tr *fakeTransport, _ *fakeLink) { tr.routeAfter = -1 },
			want:  PathDiscoveryTimeout,
		},
		{
			name:  "unknown identity",
			setup: func(tr *fakeTransport, _ *fakeLink) { tr.identity = nil },
			want:  LinkEstablishmentFailed,
		},
		{
			name: "link closed",
			setup: func(_ *fakeTransport, l *fakeLink) {
				l.statuses = []transport.LinkStatus{transport.LinkPending, transport.LinkClosed}
			},
			want:         LinkEstablishmentFailed,
			wantOpened:   true,
			wantTeardown: 1,
		},
		{
			name: "link never active",
			setup: func(_ *fakeTransport, l *fakeLink) {
				l.statuses = []transport.LinkStatus{transport.LinkPending}
			},
			want:         LinkEstablishmentFailed,
			wantOpened:   true,
			wantTeardown: 1,
		},
		{
			name: "send fails",
			setup: func(_ *fakeTransport, l *fakeLink) {
				l.onSend = func(*fakeLink, []byte) error { return errors.New("link dropped") }
			},
			want:         TransportError,
			wantOpened:   true,
			wantTeardown: 1,
		},
		{
			name: "callback error",
			setup: func(_ *fakeTransport, l *fakeLink) {
				l.onSend = func(l *fakeLink, _ []byte) error {
					go l.complete(nil, errors.New("resource failed"))
					return nil
				}
			},
			want:         TransportError,
			wantOpened:   true,
			wantTeardown: 1,
		},
		{
			name:         "response timeout",
			setup:        func(*fakeTransport, *fakeLink) {},
			want:         ResponseTimeout,
			wantOpened:   true,
			wantTeardown: 1,
		},
		{
			name: "panic while establishing",
			setup: func(_ *fakeTransport, l *fakeLink) {
				l.statusPanic = "status exploded"
			},
			want:         TransportError,
			wantOpened:   true,
			wantTeardown: 1,
		},
		{
			name: "panic after link",
			setup: func(_ *fakeTransport, l *fakeLink) {
				l.onSend = func(*fakeLink, []byte) error { panic("boom") }
			},
			want:         TransportError,
			wantOpened:   true,
			wantTeardown: 1,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			link := newFakeLink()
			tr := newFakeTransport(link)
			tc.setup(tr, link)

			c := newTestClient(t, tr)
			res, err := c.Fetch(context.Background(), testID+"/")

			if res != nil {
				t.Error("expected nil result on failure")
			}
			if KindOf(err) != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
			if opened := tr.openCount() > 0; opened != tc.wantOpened {
				t.Errorf("link opened: got %v, want %v", opened, tc.wantOpened)
			}
			if n := link.teardowns.Load(); n != tc.wantTeardown {
				t.Errorf("teardowns: got %d, want %d", n, tc.wantTeardown)
			}
			if v := testutil.ToFloat64(linksOpen); v != 0 {
				t.Errorf("links open: got %v, want 0", v)
			}
		})
	}
}

func TestFetch_concurrentIndependentLinks(t *testing.T) {
	const n = 8
	errs := make(chan error, n)
	links := make([]*fakeLink, n)

	for i := 0; i < n; i++ {
		links[i] = newFakeLink()
		links[i].onSend = replyWith([]byte("ok"))
		c := newTestClient(t, newFakeTransport(links[i]))
		go func() {
			_, err := c.Fetch(context.Background(), testID)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Fetch: %v", err)
		}
	}
	for i, l := range links {
		if got := l.teardowns.Load(); got != 1 {
			t.Errorf("link %d teardowns: got %d, want 1", i, got)
		}
	}
}

func TestNew_rejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LinkPollAttempts = 0
	if _, err := New(nil, WithConfig(cfg)); err == nil {
		t.Error("expected error for zero link poll attempts")
	}
	if _, err := New(nil, WithDestination("")); err == nil {
		t.Error("expected error for empty app name")
	}
}

func TestNew_destinationOption(t *testing.T) {
	link := newFakeLink()
	link.onSend = replyWith([]byte("x"))
	tr := newFakeTransport(link)

	c, err := New(tr, WithConfig(fastConfig()), WithDestination("nomadnetwork", "node"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch(context.Background(), testID); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := tr.opened[0].Name(); got != "nomadnetwork.node" {
		t.Errorf("destination name: got %q", got)
	}

	cfg := c.Config()
	if cfg.AppName != "nomadnetwork" || len(cfg.Aspects) != 1 || cfg.Aspects[0] != "node" {
		t.Errorf("Config: got %s %v", cfg.AppName, cfg.Aspects)
	}
	cfg.Aspects[0] = "mutated"
	if got := c.Config().Aspects[0]; got != "node" {
		t.Errorf("Config should return a copy, aspects now %q", got)
	}
}
