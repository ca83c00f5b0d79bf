package mesh

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

const serveReadTimeout = 30 * time.Second

// Handler answers one request. from identifies the requesting peer.
type Handler func(ctx context.Context, from string, request []byte) []byte

type service struct {
	dest    transport.Destination
	proto   protocol.ID
	handler Handler
}

// Serve registers h for this node's appName/aspects destination, announces
// it immediately and then every AnnounceInterval until the node closes.
func (n *Node) Serve(appName string, aspects []string, h Handler) (transport.Destination, error) {
	dest := transport.Destination{
		Identity:  n.identity,
		Direction: transport.In,
		Type:      transport.Single,
		AppName:   appName,
		Aspects:   append([]string(nil), aspects...),
	}
	s := &service{dest: dest, proto: ProtocolFor(dest), handler: h}

	n.mu.Lock()
	n.served[hex.EncodeToString(dest.FullHash())] = s
	n.mu.Unlock()

	n.host.SetStreamHandler(s.proto, func(st network.Stream) { n.handleStream(s, st) })

	if err := n.publishAnnounce(s); err != nil {
		n.logger.Warn("initial announce failed", zap.Error(err))
	}

	n.spawn(func() {
		tick := time.NewTicker(n.cfg.AnnounceInterval)
		defer tick.Stop()
		for {
			select {
			case <-n.ctx.Done():
				return
			case <-tick.C:
				if err := n.publishAnnounce(s); err != nil {
					n.logger.Warn("announce failed", zap.Error(err))
				}
			}
		}
	})

	n.logger.Info("serving destination",
		zap.String("destination", hex.EncodeToString(dest.Hash())),
		zap.String("name", dest.Name()))
	return dest, nil
}

// Announce re-publishes every served destination.
func (n *Node) Announce() error {
	n.mu.RLock()
	services := make([]*service, 0, len(n.served))
	for _, s := range n.served {
		services = append(services, s)
	}
	n.mu.RUnlock()

	for _, s := range services {
		if err := n.publishAnnounce(s); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) lookupService(id address.DestinationID) (*service, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, s := range n.served {
		if s.dest.Matches(id) {
			return s, true
		}
	}
	return nil, false
}

func (n *Node) handleStream(s *service, st network.Stream) {
	defer st.Close()
	from := st.Conn().RemotePeer().String()
	_ = st.SetReadDeadline(time.Now().Add(serveReadTimeout))

	req, err := readRequest(st)
	if err != nil {
		n.logger.Debug("bad request frame", zap.String("peer", from), zap.Error(err))
		_ = writeError(st, "bad request")
		return
	}

	resp := s.handler(n.ctx, from, req)
	if err := writeResponse(st, resp); err != nil {
		n.logger.Debug("write response failed", zap.String("peer", from), zap.Error(err))
		_ = st.Reset()
	}
}
