package fetch

import (
	"sync"
	"sync/atomic"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

// ── fake link ────────────────────────────────────────────────────────────────

type fakeLink struct {
	mu       sync.Mutex
	statuses []transport.LinkStatus // returned in order; the last one repeats
	cb       func([]byte, error)
	sent     [][]byte
	armed    bool // callback was registered before the first Send

	// onSend runs inside Send; it may invoke the registered callback.
	onSend func(l *fakeLink, data []byte) error

	// statusPanic, when set, makes Status panic with it.
	statusPanic any

	teardowns atomic.Int32
}

func newFakeLink(statuses ...transport.LinkStatus) *fakeLink {
	if len(statuses) == 0 {
		statuses = []transport.LinkStatus{transport.LinkActive}
	}
	return &fakeLink{statuses: statuses}
}

func (l *fakeLink) Status() transport.LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statusPanic != nil {
		panic(l.statusPanic)
	}
	s := l.statuses[0]
	if len(l.statuses) > 1 {
		l.statuses = l.statuses[1:]
	}
	return s
}

func (l *fakeLink) Send(data []byte) error {
	l.mu.Lock()
	if len(l.sent) == 0 {
		l.armed = l.cb != nil
	}
	l.sent = append(l.sent, data)
	fn := l.onSend
	l.mu.Unlock()

	if fn != nil {
		return fn(l, data)
	}
	return nil
}

func (l *fakeLink) OnComplete(fn func([]byte, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = fn
}

func (l *fakeLink) Teardown() { l.teardowns.Add(1) }

// complete invokes the registered callback.
func (l *fakeLink) complete(payload []byte, err error) {
	l.mu.Lock()
	fn := l.cb
	l.mu.Unlock()
	if fn != nil {
		fn(payload, err)
	}
}

func replyWith(payload []byte) func(*fakeLink, []byte) error {
	return func(l *fakeLink, _ []byte) error {
		go l.complete(payload, nil)
		return nil
	}
}

// ── fake transport ───────────────────────────────────────────────────────────

type fakeTransport struct {
	mu sync.Mutex

	routeAfter int // HasRoute turns true on this call number; <0 never
	hasCalls   int
	requests   int
	requestErr error

	identity *transport.Identity
	link     *fakeLink
	openErr  error
	opened   []transport.Destination

	ifaces []transport.InterfaceInfo
	idHash string
}

func newFakeTransport(link *fakeLink) *fakeTransport {
	return &fakeTransport{
		routeAfter: 1,
		identity:   &transport.Identity{PublicKey: []byte("remote-public-key")},
		link:       link,
	}
}

func (f *fakeTransport) RequestRoute(address.DestinationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return f.requestErr
}

func (f *fakeTransport) HasRoute(address.DestinationID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasCalls++
	return f.routeAfter >= 0 && f.hasCalls >= f.routeAfter
}

func (f *fakeTransport) RecallIdentity(address.DestinationID) (transport.Identity, bool) {
	if f.identity == nil {
		return transport.Identity{}, false
	}
	return *f.identity, true
}

func (f *fakeTransport) OpenLink(dest transport.Destination) (transport.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, dest)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.link, nil
}

func (f *fakeTransport) Interfaces() []transport.InterfaceInfo { return f.ifaces }

func (f *fakeTransport) IdentityHash() (string, bool) { return f.idHash, f.idHash != "" }

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}
