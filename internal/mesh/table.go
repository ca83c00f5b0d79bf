package mesh

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

// announceEntry is what a node learned from one destination announce.
type announceEntry struct {
	dest      transport.Destination
	peer      peer.ID
	expiresAt time.Time
}

func (e *announceEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// announceTable maps destination hashes to the announce that produced them.
// Each announce is stored under both its 16-byte and 32-byte hash so either
// address form resolves. Entries expire after ttl unless re-announced.
type announceTable struct {
	mu      sync.RWMutex
	entries map[string]*announceEntry
	ttl     time.Duration
}

func newAnnounceTable(ttl time.Duration) *announceTable {
	return &announceTable{
		entries: make(map[string]*announceEntry),
		ttl:     ttl,
	}
}

// get looks up a live entry by destination id.
func (t *announceTable) get(id address.DestinationID) (*announceEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id.Hex()]
	if !ok || e.expired() {
		return nil, false
	}
	return e, true
}

// put records dest as reachable via p, refreshing its expiry.
func (t *announceTable) put(dest transport.Destination, p peer.ID) {
	full := dest.FullHash()
	e := &announceEntry{dest: dest, peer: p, expiresAt: time.Now().Add(t.ttl)}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[hex.EncodeToString(full)] = e
	t.entries[hex.EncodeToString(full[:address.TruncatedLen])] = e
}

// invalidate removes every entry announced by p.
func (t *announceTable) invalidate(p peer.ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if e.peer == p {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// evict removes all expired entries.
func (t *announceTable) evict() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if e.expired() {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// len returns the number of keys held (including expired).
func (t *announceTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// startEviction evicts expired entries every interval until ctx is done.
func (t *announceTable) startEviction(ctx context.Context, interval time.Duration) {
	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				t.evict()
			}
		}
	}()
}
