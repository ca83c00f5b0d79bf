package mesh

import (
	ma "github.com/multiformats/go-multiaddr"

	"github.com/jmerrifield20/meshfetch/internal/transport"
)

// Interface type names reported by Interfaces.
const (
	TypeTCP       = "TCPInterface"
	TypeQUIC      = "QUICInterface"
	TypeWebSocket = "WebSocketInterface"
	TypeLibp2p    = "Libp2pInterface"
	TypeMDNS      = "MDNSDiscovery"
	TypeDHT       = "KademliaDHT"
	TypeGossip    = "GossipSub"
)

// Interfaces lists the host's listen addresses plus the discovery and
// gossip services currently running.
func (n *Node) Interfaces() []transport.InterfaceInfo {
	addrs := n.host.Addrs()
	out := make([]transport.InterfaceInfo, 0, len(addrs)+3)
	for _, a := range addrs {
		out = append(out, transport.InterfaceInfo{Name: a.String(), Type: classify(a)})
	}
	if n.mdns != nil {
		out = append(out, transport.InterfaceInfo{Name: n.cfg.MDNSService, Type: TypeMDNS})
	}
	if n.kdht != nil {
		out = append(out, transport.InterfaceInfo{Name: "kad-dht", Type: TypeDHT})
	}
	if n.topic != nil {
		out = append(out, transport.InterfaceInfo{Name: AnnounceTopic, Type: TypeGossip})
	}
	return out
}

func classify(a ma.Multiaddr) string {
	has := func(code int) bool {
		_, err := a.ValueForProtocol(code)
		return err == nil
	}
	switch {
	case has(ma.P_WS), has(ma.P_WSS):
		return TypeWebSocket
	case has(ma.P_QUIC_V1), has(ma.P_QUIC):
		return TypeQUIC
	case has(ma.P_TCP):
		return TypeTCP
	default:
		return TypeLibp2p
	}
}
