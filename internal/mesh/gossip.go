package mesh

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

// AnnounceTopic is the gossipsub topic carrying announces and path requests.
const AnnounceTopic = "meshfetch/announce/1"

const (
	msgAnnounce    = "announce"
	msgPathRequest = "path_request"
)

// gossipMessage is the JSON payload published on AnnounceTopic.
type gossipMessage struct {
	Type string `json:"type"`

	// announce
	PublicKey []byte   `json:"public_key,omitempty"`
	AppName   string   `json:"app_name,omitempty"`
	Aspects   []string `json:"aspects,omitempty"`
	Addrs     []string `json:"addrs,omitempty"`

	// path_request
	Destination string `json:"destination,omitempty"`
}

var errAnnounceForged = errors.New("announce key does not belong to sender")

func (n *Node) startGossip() error {
	ps, err := pubsub.NewGossipSub(n.ctx, n.host, pubsub.WithMessageSigning(true))
	if err != nil {
		return fmt.Errorf("start gossipsub: %w", err)
	}
	topic, err := ps.Join(AnnounceTopic)
	if err != nil {
		return fmt.Errorf("join %s: %w", AnnounceTopic, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", AnnounceTopic, err)
	}
	n.ps, n.topic, n.sub = ps, topic, sub

	n.spawn(n.gossipLoop)
	return nil
}

func (n *Node) gossipLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			continue
		}
		from := msg.GetFrom()
		if from == n.host.ID() {
			continue
		}

		var m gossipMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			n.logger.Debug("dropping malformed gossip", zap.String("from", from.String()), zap.Error(err))
			continue
		}

		switch m.Type {
		case msgAnnounce:
			n.handleAnnounce(from, m)
		case msgPathRequest:
			n.handlePathRequest(m)
		}
	}
}

// verifyAnnounce checks that the announced key belongs to the signing peer
// and returns the announced destination and addresses.
func verifyAnnounce(from peer.ID, m gossipMessage) (transport.Destination, []ma.Multiaddr, error) {
	if m.AppName == "" {
		return transport.Destination{}, nil, errors.New("announce without app name")
	}
	ident := transport.Identity{PublicKey: m.PublicKey}
	pid, err := peerOf(ident)
	if err != nil {
		return transport.Destination{}, nil, err
	}
	if pid != from {
		return transport.Destination{}, nil, errAnnounceForged
	}

	addrs := make([]ma.Multiaddr, 0, len(m.Addrs))
	for _, s := range m.Addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}

	dest := transport.Destination{
		Identity:  ident,
		Direction: transport.In,
		Type:      transport.Single,
		AppName:   m.AppName,
		Aspects:   m.Aspects,
	}
	return dest, addrs, nil
}

func (n *Node) handleAnnounce(from peer.ID, m gossipMessage) {
	dest, addrs, err := verifyAnnounce(from, m)
	if err != nil {
		n.logger.Debug("rejecting announce", zap.String("from", from.String()), zap.Error(err))
		return
	}
	if len(addrs) > 0 {
		n.host.Peerstore().AddAddrs(from, addrs, n.cfg.AnnounceTTL)
	}
	n.table.put(dest, from)

	n.logger.Debug("announce received",
		zap.String("destination", hex.EncodeToString(dest.Hash())),
		zap.String("name", dest.Name()),
		zap.String("peer", from.String()))
}

func (n *Node) handlePathRequest(m gossipMessage) {
	raw, err := hex.DecodeString(m.Destination)
	if err != nil {
		return
	}
	id, err := address.NewDestinationID(raw)
	if err != nil {
		return
	}
	if s, ok := n.lookupService(id); ok {
		if err := n.publishAnnounce(s); err != nil {
			n.logger.Warn("re-announce failed", zap.Error(err))
		}
	}
}

func (n *Node) publishAnnounce(s *service) error {
	addrs := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, a.String())
	}
	return n.publish(gossipMessage{
		Type:      msgAnnounce,
		PublicKey: n.identity.PublicKey,
		AppName:   s.dest.AppName,
		Aspects:   s.dest.Aspects,
		Addrs:     addrs,
	})
}

func (n *Node) publishPathRequest(id address.DestinationID) error {
	return n.publish(gossipMessage{Type: msgPathRequest, Destination: id.Hex()})
}

func (n *Node) publish(m gossipMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", m.Type, err)
	}
	if err := n.topic.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("publish %s: %w", m.Type, err)
	}
	return nil
}
