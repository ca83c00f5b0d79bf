// Package fetch retrieves pages from mesh destinations.
//
// A fetch runs five steps in the calling goroutine: parse the address,
// resolve a path, establish a link, exchange one request/response over it,
// and parse the reply. The link is torn down before Fetch returns on every
// exit path. Fetch returns either a *Result or a *Error, never both.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/transport"
	"github.com/jmerrifield20/meshfetch/pkg/address"
)

// Defaults.
const (
	DefaultPathDiscoveryTimeout = 10 * time.Second
	DefaultPathPollInterval     = 100 * time.Millisecond
	DefaultLinkPollInterval     = time.Second
	DefaultLinkPollAttempts     = 10
	DefaultResponseTimeout      = 10 * time.Second
	DefaultAppName              = "rserver"
	DefaultUserAgent            = "MeshBrowser/1.0"
)

// DefaultAspects returns the aspects page servers register under.
func DefaultAspects() []string { return []string{"web"} }

// Config tunes the fetch pipeline.
type Config struct {
	PathDiscoveryTimeout time.Duration
	PathPollInterval     time.Duration
	LinkPollInterval     time.Duration
	LinkPollAttempts     int
	ResponseTimeout      time.Duration
	AppName              string
	Aspects              []string
	UserAgent            string
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		PathDiscoveryTimeout: DefaultPathDiscoveryTimeout,
		PathPollInterval:     DefaultPathPollInterval,
		LinkPollInterval:     DefaultLinkPollInterval,
		LinkPollAttempts:     DefaultLinkPollAttempts,
		ResponseTimeout:      DefaultResponseTimeout,
		AppName:              DefaultAppName,
		Aspects:              DefaultAspects(),
		UserAgent:            DefaultUserAgent,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.PathDiscoveryTimeout <= 0:
		return errors.New("path discovery timeout must be positive")
	case c.PathPollInterval <= 0:
		return errors.New("path poll interval must be positive")
	case c.LinkPollInterval <= 0:
		return errors.New("link poll interval must be positive")
	case c.LinkPollAttempts < 1:
		return errors.New("link poll attempts must be at least 1")
	case c.ResponseTimeout <= 0:
		return errors.New("response timeout must be positive")
	case c.AppName == "":
		return errors.New("app name must not be empty")
	}
	return nil
}

// Client is the entry point for fetches and status reads. It holds only
// immutable configuration and is safe for concurrent use.
type Client struct {
	tr      transport.Transport
	cfg     Config
	logger  *zap.Logger
	version string

	paths     *PathResolver
	links     *LinkEstablisher
	exchanger *Exchanger
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithConfig replaces the pipeline settings.
func WithConfig(cfg Config) Option {
	return func(c *Client) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("fetch config: %w", err)
		}
		cfg.Aspects = append([]string(nil), cfg.Aspects...)
		c.cfg = cfg
		return nil
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
		return nil
	}
}

// WithDestination overrides the app name and aspects links are opened to.
func WithDestination(appName string, aspects ...string) Option {
	return func(c *Client) error {
		if appName == "" {
			return errors.New("app name must not be empty")
		}
		c.cfg.AppName = appName
		c.cfg.Aspects = append([]string(nil), aspects...)
		return nil
	}
}

// WithUserAgent sets the User-Agent request header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.cfg.UserAgent = ua
		return nil
	}
}

// WithVersion sets the version string reported by Status.
func WithVersion(v string) Option {
	return func(c *Client) error {
		c.version = v
		return nil
	}
}

// New returns a Client over tr. A nil tr yields a client whose Status
// reports uninitialized and whose fetches fail with TransportError.
func New(tr transport.Transport, opts ...Option) (*Client, error) {
	c := &Client{
		tr:      tr,
		cfg:     DefaultConfig(),
		logger:  zap.NewNop(),
		version: "dev",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	c.exchanger = NewExchanger(c.cfg.UserAgent, c.cfg.ResponseTimeout, c.logger)
	if tr != nil {
		c.paths = NewPathResolver(tr, c.cfg.PathDiscoveryTimeout, c.cfg.PathPollInterval, c.logger)
		c.links = NewLinkEstablisher(tr, c.cfg.LinkPollInterval, c.cfg.LinkPollAttempts, c.logger)
	}
	return c, nil
}

// Config returns a copy of the client's settings.
func (c *Client) Config() Config {
	cfg := c.cfg
	cfg.Aspects = append([]string(nil), c.cfg.Aspects...)
	return cfg
}

// Fetch retrieves url, given as "<hex-destination>[/<path>]".
func (c *Client) Fetch(ctx context.Context, url string) (res *Result, err error) {
	log := c.logger.With(zap.String("fetch_id", uuid.NewString()))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("fetch panicked", zap.Any("panic", r), zap.Stack("stack"))
			res, err = nil, newError(TransportError, nil, "internal failure: %v", r)
		}
		recordOutcome(err)
		if err != nil {
			log.Info("fetch failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		}
	}()

	addr, perr := address.Parse(url)
	if perr != nil {
		return nil, newError(InvalidAddress, perr, "%q", url)
	}
	if c.tr == nil {
		return nil, newError(TransportError, nil, "transport not initialized")
	}
	log = log.With(zap.String("destination", addr.Destination.Hex()), zap.String("path", addr.Path))

	stageStart := time.Now()
	if err := c.paths.Resolve(ctx, addr.Destination); err != nil {
		return nil, err
	}
	observeStage(stagePath, stageStart)

	stageStart = time.Now()
	link, err := c.links.Establish(ctx, addr.Destination, c.cfg.AppName, c.cfg.Aspects)
	if err != nil {
		return nil, err
	}
	observeStage(stageLink, stageStart)

	linksOpen.Inc()
	defer func() {
		link.Teardown()
		linksOpen.Dec()
		log.Debug("link torn down")
	}()

	stageStart = time.Now()
	raw, err := c.exchanger.Exchange(ctx, link, addr.Destination, addr.Path)
	if err != nil {
		return nil, err
	}
	observeStage(stageExchange, stageStart)

	stageStart = time.Now()
	res = ParseResponse(raw, addr.Path)
	observeStage(stageParse, stageStart)

	log.Info("fetched",
		zap.Int("status", res.StatusCode),
		zap.String("content_type", res.ContentType),
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}
