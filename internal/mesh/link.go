package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/transport"
)

// ErrLinkNotActive is returned by Send on a link that is pending or closed.
var ErrLinkNotActive = errors.New("link not active")

// ProtocolFor returns the stream protocol serving dest. Both sides derive it
// from the app name and ordered aspects, so a mismatch fails the dial.
func ProtocolFor(dest transport.Destination) protocol.ID {
	return protocol.ID("/meshfetch/" + dest.Name() + "/1.0.0")
}

// OpenLink starts dialing dest and returns immediately with a Pending link.
func (n *Node) OpenLink(dest transport.Destination) (transport.Link, error) {
	if n.ctx.Err() != nil {
		return nil, ErrClosed
	}
	pid, err := peerOf(dest.Identity)
	if err != nil {
		return nil, fmt.Errorf("open link: %w", err)
	}

	ctx, cancel := context.WithCancel(n.ctx)
	l := &streamLink{
		node:   n,
		peer:   pid,
		proto:  ProtocolFor(dest),
		ctx:    ctx,
		cancel: cancel,
		status: transport.LinkPending,
	}
	go l.dial()
	return l, nil
}

// streamLink is a transport.Link over one libp2p stream.
type streamLink struct {
	node   *Node
	peer   peer.ID
	proto  protocol.ID
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	status transport.LinkStatus
	stream network.Stream
	cb     func([]byte, error)
	sent   bool

	teardown sync.Once
}

func (l *streamLink) dial() {
	ctx, cancel := context.WithTimeout(l.ctx, l.node.cfg.LinkTimeout)
	defer cancel()

	s, err := l.node.host.NewStream(ctx, l.peer, l.proto)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.node.logger.Debug("link dial failed",
			zap.String("peer", l.peer.String()),
			zap.String("protocol", string(l.proto)),
			zap.Error(err))
		l.status = transport.LinkClosed
		if l.ctx.Err() == nil {
			// unreachable: force rediscovery on the next route request
			l.node.table.invalidate(l.peer)
		}
		return
	}
	if l.status == transport.LinkClosed {
		// torn down while dialing
		_ = s.Reset()
		return
	}
	l.stream = s
	l.status = transport.LinkActive
}

func (l *streamLink) Status() transport.LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *streamLink) OnComplete(fn func([]byte, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = fn
}

// Send writes data as the link's single request and starts reading the
// response in the background. The completion callback receives it.
func (l *streamLink) Send(data []byte) error {
	l.mu.Lock()
	if l.status != transport.LinkActive {
		l.mu.Unlock()
		return ErrLinkNotActive
	}
	if l.sent {
		l.mu.Unlock()
		return errors.New("link already carried a request")
	}
	l.sent = true
	s := l.stream
	l.mu.Unlock()

	if err := writeRequest(s, data); err != nil {
		return err
	}
	if err := s.CloseWrite(); err != nil {
		return fmt.Errorf("close write: %w", err)
	}

	go func() {
		payload, err := readResponse(s, l.node.cfg.MaxResourceBytes)
		l.complete(payload, err)
	}()
	return nil
}

func (l *streamLink) complete(payload []byte, err error) {
	l.mu.Lock()
	fn := l.cb
	l.mu.Unlock()
	if fn != nil {
		fn(payload, err)
	}
}

// Teardown closes the link. Repeated calls are no-ops.
func (l *streamLink) Teardown() {
	l.teardown.Do(func() {
		l.cancel()
		l.mu.Lock()
		s := l.stream
		l.stream = nil
		l.status = transport.LinkClosed
		l.mu.Unlock()
		if s != nil {
			_ = s.Reset()
		}
	})
}
