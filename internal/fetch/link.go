package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

// linkTransport is the slice of the transport the establisher needs.
type linkTransport interface {
	transport.IdentityStore
	transport.Linker
}

// LinkEstablisher recalls a destination's identity, opens a link to it and
// waits for the link to become usable.
type LinkEstablisher struct {
	tr       linkTransport
	interval time.Duration
	attempts int
	logger   *zap.Logger
}

// NewLinkEstablisher returns an establisher that checks link status every
// interval, at most attempts times.
func NewLinkEstablisher(tr linkTransport, interval time.Duration, attempts int, logger *zap.Logger) *LinkEstablisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts < 1 {
		attempts = 1
	}
	return &LinkEstablisher{tr: tr, interval: interval, attempts: attempts, logger: logger}
}

// Establish returns an Active link to id's appName/aspects destination.
// The caller owns the returned link and must tear it down. On failure any
// half-open link has already been torn down.
func (e *LinkEstablisher) Establish(ctx context.Context, id address.DestinationID, appName string, aspects []string) (transport.Link, error) {
	ident, ok := e.tr.RecallIdentity(id)
	if !ok {
		return nil, newError(LinkEstablishmentFailed, nil, "identity unknown for %s", id)
	}

	dest := transport.Destination{
		Identity:  ident,
		Direction: transport.Out,
		Type:      transport.Single,
		AppName:   appName,
		Aspects:   append([]string(nil), aspects...),
	}

	link, err := e.tr.OpenLink(dest)
	if err != nil {
		return nil, newError(LinkEstablishmentFailed, err, "open link to %s", id)
	}
	defer func() {
		if r := recover(); r != nil {
			link.Teardown()
			panic(r)
		}
	}()

	wait := time.NewTimer(e.interval)
	defer wait.Stop()

	for i := 0; i < e.attempts; i++ {
		select {
		case <-wait.C:
		case <-ctx.Done():
			link.Teardown()
			return nil, newError(LinkEstablishmentFailed, ctx.Err(), "link to %s", id)
		}

		switch link.Status() {
		case transport.LinkActive:
			e.logger.Debug("link active",
				zap.String("destination", id.Hex()),
				zap.String("name", dest.Name()),
				zap.Int("polls", i+1))
			return link, nil
		case transport.LinkClosed:
			link.Teardown()
			return nil, newError(LinkEstablishmentFailed, nil, "link closed to %s", id)
		}
		wait.Reset(e.interval)
	}

	link.Teardown()
	return nil, newError(LinkEstablishmentFailed, nil, "timeout waiting for link to %s", id)
}
