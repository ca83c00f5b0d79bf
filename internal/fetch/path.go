package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

// PathResolver asks the transport for a route and waits until one exists.
// Route discovery offers no completion callback, so this is the one place
// the client polls the transport on its own clock.
type PathResolver struct {
	router   transport.Router
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewPathResolver returns a resolver polling every interval for up to timeout.
func NewPathResolver(r transport.Router, timeout, interval time.Duration, logger *zap.Logger) *PathResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PathResolver{router: r, timeout: timeout, interval: interval, logger: logger}
}

// Resolve issues a single route request for id and returns once HasRoute
// reports true. It fails with PathDiscoveryTimeout when the deadline passes
// or ctx is done first.
func (p *PathResolver) Resolve(ctx context.Context, id address.DestinationID) error {
	start := time.Now()

	if err := p.router.RequestRoute(id); err != nil {
		return newError(TransportError, err, "request route to %s", id)
	}
	if p.router.HasRoute(id) {
		return nil
	}

	p.logger.Debug("waiting for path", zap.String("destination", id.Hex()))

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(p.interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if p.router.HasRoute(id) {
				p.logger.Debug("path found",
					zap.String("destination", id.Hex()),
					zap.Duration("elapsed", time.Since(start)))
				return nil
			}
		case <-deadline.C:
			return newError(PathDiscoveryTimeout, nil,
				"no path to %s after %s", id, time.Since(start).Round(time.Millisecond))
		case <-ctx.Done():
			return newError(PathDiscoveryTimeout, ctx.Err(),
				"no path to %s after %s", id, time.Since(start).Round(time.Millisecond))
		}
	}
}
