// Package mesh binds the fetch transport contract to libp2p.
//
// A Node owns a libp2p host. Destinations are announced over a gossipsub
// topic; each announce is self-certifying (the announced public key must
// belong to the signing peer) and populates a TTL table that answers route
// and identity queries. Links are libp2p streams on a protocol derived from
// the destination's app name and aspects, carrying one framed request and
// one framed response.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

// Config holds node settings.
type Config struct {
	IdentityFile     string        // empty = ephemeral identity
	ListenAddrs      []string      // multiaddrs
	BootstrapPeers   []string      // multiaddrs including /p2p/<id>
	MDNSEnabled      bool
	MDNSService      string
	DHTEnabled       bool
	AnnounceInterval time.Duration // re-announce period for served destinations
	AnnounceTTL      time.Duration // how long a received announce stays valid
	LinkTimeout      time.Duration // bound on opening a link stream
	MaxResourceBytes int64         // largest response accepted
}

// DefaultConfig returns the stock node settings.
func DefaultConfig() Config {
	return Config{
		ListenAddrs:      []string{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"},
		MDNSEnabled:      true,
		MDNSService:      "meshfetch",
		AnnounceInterval: 5 * time.Minute,
		AnnounceTTL:      30 * time.Minute,
		LinkTimeout:      10 * time.Second,
		MaxResourceBytes: 16 << 20,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = d.ListenAddrs
	}
	if c.MDNSService == "" {
		c.MDNSService = d.MDNSService
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = d.AnnounceInterval
	}
	if c.AnnounceTTL <= 0 {
		c.AnnounceTTL = d.AnnounceTTL
	}
	if c.LinkTimeout <= 0 {
		c.LinkTimeout = d.LinkTimeout
	}
	if c.MaxResourceBytes <= 0 {
		c.MaxResourceBytes = d.MaxResourceBytes
	}
}

// ErrClosed is returned by operations on a closed node.
var ErrClosed = errors.New("mesh node closed")

// Node is a running mesh participant. It implements transport.Transport.
type Node struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	host     host.Host
	identity transport.Identity
	table    *announceTable

	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	kdht *dht.IpfsDHT
	mdns mdns.Service

	mu     sync.RWMutex
	served map[string]*service // keyed by full destination hash hex
	closed bool                // set before Close waits on wg

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ transport.Transport = (*Node)(nil)

// New starts a node: libp2p host, gossip, and the configured discovery.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	priv, err := LoadOrCreateKey(cfg.IdentityFile)
	if err != nil {
		return nil, err
	}
	ident, err := identityOf(priv.GetPublic())
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}

	nctx, cancel := context.WithCancel(ctx)
	n := &Node{
		cfg:      cfg,
		logger:   logger,
		ctx:      nctx,
		cancel:   cancel,
		host:     h,
		identity: ident,
		table:    newAnnounceTable(cfg.AnnounceTTL),
		served:   make(map[string]*service),
	}

	if err := n.startGossip(); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.startDiscovery(); err != nil {
		n.Close()
		return nil, err
	}
	n.table.startEviction(nctx, time.Minute)

	logger.Info("mesh node started",
		zap.String("peer_id", h.ID().String()),
		zap.String("identity_hash", n.identityHashHex()),
		zap.Int("listen_addrs", len(h.Addrs())))
	return n, nil
}

// Host exposes the underlying libp2p host.
func (n *Node) Host() host.Host { return n.host }

// Identity returns the node's public identity.
func (n *Node) Identity() transport.Identity { return n.identity }

// Close stops discovery, gossip and the host. It is safe to call twice.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()
		n.cancel()
		if n.mdns != nil {
			_ = n.mdns.Close()
		}
		if n.sub != nil {
			n.sub.Cancel()
		}
		if n.topic != nil {
			_ = n.topic.Close()
		}
		if n.kdht != nil {
			_ = n.kdht.Close()
		}
		err = n.host.Close()
		n.wg.Wait()
	})
	return err
}

// spawn runs fn on a goroutine that Close waits for. It reports false, and
// does not run fn, once the node is closing.
func (n *Node) spawn(fn func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
	return true
}

// ── transport.Router ─────────────────────────────────────────────────────────

// RequestRoute broadcasts a path request for id. When the destination's
// announce is already known but no addresses are, the DHT is queried in the
// background.
func (n *Node) RequestRoute(id address.DestinationID) error {
	if n.ctx.Err() != nil {
		return ErrClosed
	}
	if err := n.publishPathRequest(id); err != nil {
		return err
	}
	if e, ok := n.table.get(id); ok && !n.reachable(e) {
		n.findPeer(e.peer)
	}
	return nil
}

// HasRoute reports whether id has been announced by a peer we can reach.
func (n *Node) HasRoute(id address.DestinationID) bool {
	e, ok := n.table.get(id)
	return ok && n.reachable(e)
}

func (n *Node) reachable(e *announceEntry) bool {
	if n.host.Network().Connectedness(e.peer) == network.Connected {
		return true
	}
	return len(n.host.Peerstore().Addrs(e.peer)) > 0
}

// ── transport.IdentityStore ──────────────────────────────────────────────────

// RecallIdentity returns the identity announced for id.
func (n *Node) RecallIdentity(id address.DestinationID) (transport.Identity, bool) {
	e, ok := n.table.get(id)
	if !ok {
		return transport.Identity{}, false
	}
	return e.dest.Identity, true
}

// ── transport.Reporter ───────────────────────────────────────────────────────

// IdentityHash returns the hex identity hash of this node.
func (n *Node) IdentityHash() (string, bool) {
	return n.identityHashHex(), true
}

func (n *Node) identityHashHex() string {
	return fmt.Sprintf("%x", n.identity.Hash())
}
