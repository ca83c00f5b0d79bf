package mesh

import (
	"context"
	"fmt"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const (
	peerConnectTimeout = 10 * time.Second
	findPeerTimeout    = 30 * time.Second
)

func (n *Node) startDiscovery() error {
	bootstrap, err := parseBootstrap(n.cfg.BootstrapPeers)
	if err != nil {
		return err
	}

	if n.cfg.DHTEnabled {
		kdht, err := dht.New(n.ctx, n.host, dht.Mode(dht.ModeAuto))
		if err != nil {
			return fmt.Errorf("start dht: %w", err)
		}
		n.kdht = kdht
	}

	for _, info := range bootstrap {
		info := info
		n.spawn(func() { n.connect(info, "bootstrap") })
	}

	if n.kdht != nil {
		if err := n.kdht.Bootstrap(n.ctx); err != nil {
			n.logger.Warn("dht bootstrap failed", zap.Error(err))
		}
	}

	if n.cfg.MDNSEnabled {
		n.mdns = mdns.NewMdnsService(n.host, n.cfg.MDNSService, &mdnsNotifee{node: n})
		if err := n.mdns.Start(); err != nil {
			return fmt.Errorf("start mdns: %w", err)
		}
	}
	return nil
}

func parseBootstrap(addrs []string) ([]peer.AddrInfo, error) {
	out := make([]peer.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		m, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("bootstrap peer %q: %w", s, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil {
			return nil, fmt.Errorf("bootstrap peer %q: %w", s, err)
		}
		out = append(out, *info)
	}
	return out, nil
}

// connect dials info unless it is us or already connected.
func (n *Node) connect(info peer.AddrInfo, source string) {
	if info.ID == n.host.ID() {
		return
	}
	if n.host.Network().Connectedness(info.ID) == network.Connected {
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, info); err != nil {
		n.logger.Debug("peer connect failed",
			zap.String("source", source),
			zap.String("peer", info.ID.String()),
			zap.Error(err))
		return
	}
	n.logger.Debug("peer connected", zap.String("source", source), zap.String("peer", info.ID.String()))
	if err := n.Announce(); err != nil {
		n.logger.Debug("announce to new peer failed", zap.Error(err))
	}
}

// findPeer looks p up in the DHT in the background and records any
// addresses found.
func (n *Node) findPeer(p peer.ID) {
	if n.kdht == nil {
		return
	}
	n.spawn(func() {
		ctx, cancel := context.WithTimeout(n.ctx, findPeerTimeout)
		defer cancel()
		info, err := n.kdht.FindPeer(ctx, p)
		if err != nil {
			n.logger.Debug("dht find peer failed", zap.String("peer", p.String()), zap.Error(err))
			return
		}
		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.TempAddrTTL)
	})
}

// mdnsNotifee connects to peers found on the local network.
type mdnsNotifee struct {
	node *Node
}

func (m *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	n := m.node
	n.spawn(func() { n.connect(info, "mdns") })
}
