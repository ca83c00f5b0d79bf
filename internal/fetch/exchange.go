package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

const acceptHeader = "text/html,*/*"

// Exchanger writes a GET request onto an active link and waits for the
// single completion callback carrying the response.
type Exchanger struct {
	userAgent string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewExchanger returns an exchanger that waits up to timeout for a reply.
func NewExchanger(userAgent string, timeout time.Duration, logger *zap.Logger) *Exchanger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchanger{userAgent: userAgent, timeout: timeout, logger: logger}
}

// BuildRequest renders the request bytes sent for path on destination id.
func BuildRequest(id address.DestinationID, path, userAgent string) []byte {
	return []byte(fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nAccept: %s\r\n\r\n",
		path, id.Hex(), userAgent, acceptHeader))
}

type completion struct {
	payload []byte
	err     error
}

// Exchange sends the request for path and returns the raw response payload
// exactly as the transport delivered it.
func (x *Exchanger) Exchange(ctx context.Context, link transport.Link, id address.DestinationID, path string) ([]byte, error) {
	done := make(chan completion, 1)
	var once sync.Once

	// Armed before Send: the transport may reply on its own goroutine
	// before Send returns. Later or repeated invocations are dropped.
	link.OnComplete(func(payload []byte, err error) {
		once.Do(func() {
			done <- completion{payload: payload, err: err}
		})
	})

	req := BuildRequest(id, path, x.userAgent)
	if err := link.Send(req); err != nil {
		return nil, newError(TransportError, err, "send request to %s", id)
	}
	x.logger.Debug("request sent",
		zap.String("destination", id.Hex()),
		zap.String("path", path),
		zap.Int("bytes", len(req)))

	timer := time.NewTimer(x.timeout)
	defer timer.Stop()

	select {
	case c := <-done:
		if c.err != nil {
			return nil, newError(TransportError, c.err, "response from %s", id)
		}
		return c.payload, nil
	case <-timer.C:
		return nil, newError(ResponseTimeout, nil, "no response from %s after %s", id, x.timeout)
	case <-ctx.Done():
		return nil, newError(ResponseTimeout, ctx.Err(), "waiting for response from %s", id)
	}
}
