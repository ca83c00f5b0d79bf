// Package pageserver serves a directory of pages to mesh peers.
//
// Requests arrive as the HTTP/1.1-style text the fetch client sends; replies
// are rendered the same way with a status line, Content-Type and
// Content-Length. Only GET is implemented.
package pageserver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/pkg/contenttype"
)

const indexFile = "index.html"

// Config holds page server settings.
type Config struct {
	Root         string
	RateLimitRPS float64 // per peer; <= 0 disables
	RateBurst    int
	MaxFileBytes int64 // larger files are refused with 413; <= 0 means no limit
}

// Server answers page requests from a root directory.
type Server struct {
	root    string
	maxFile int64
	limiter *peerLimiter
	logger  *zap.Logger
}

// New returns a Server rooted at cfg.Root, which must be a directory.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	return &Server{
		root:    root,
		maxFile: cfg.MaxFileBytes,
		limiter: newPeerLimiter(cfg.RateLimitRPS, cfg.RateBurst),
		logger:  logger,
	}, nil
}

// Root returns the absolute directory being served.
func (s *Server) Root() string { return s.root }

// Start runs background maintenance until ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.limiter.startSweeper(ctx)
}

// Handle answers one raw request from peer from. Its signature matches
// mesh.Handler.
func (s *Server) Handle(_ context.Context, from string, raw []byte) []byte {
	if !s.limiter.allow(from) {
		pageRateLimitedTotal.Inc()
		return s.reply(from, "", http.StatusTooManyRequests, "text/plain", []byte("rate limit exceeded\n"))
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return s.reply(from, "", http.StatusBadRequest, "text/plain", []byte("malformed request\n"))
	}
	if req.Method != http.MethodGet {
		return s.reply(from, req.URL.Path, http.StatusNotImplemented, "text/plain",
			[]byte(req.Method+" not implemented\n"))
	}

	name, err := s.resolve(req.URL.Path)
	if err != nil {
		return s.reply(from, req.URL.Path, http.StatusNotFound, "text/plain", []byte("not found\n"))
	}

	info, err := os.Stat(name)
	if err != nil {
		return s.reply(from, req.URL.Path, http.StatusNotFound, "text/plain", []byte("not found\n"))
	}
	if s.maxFile > 0 && info.Size() > s.maxFile {
		return s.reply(from, req.URL.Path, http.StatusRequestEntityTooLarge, "text/plain", []byte("file too large\n"))
	}

	body, err := os.ReadFile(name)
	if err != nil {
		s.logger.Warn("read page failed", zap.String("file", name), zap.Error(err))
		return s.reply(from, req.URL.Path, http.StatusInternalServerError, "text/plain", []byte("internal error\n"))
	}

	ctype := contenttype.ByExtension(name)
	if ctype == "" {
		ctype = mimetype.Detect(body).String()
	}
	return s.reply(from, req.URL.Path, http.StatusOK, ctype, body)
}

// resolve maps a request path to a regular file under root. Directories
// resolve to their index file; anything escaping root is fs.ErrNotExist.
func (s *Server) resolve(reqPath string) (string, error) {
	clean := path.Clean("/" + reqPath)
	name := filepath.Join(s.root, filepath.FromSlash(clean))

	rel, err := filepath.Rel(s.root, name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fs.ErrNotExist
	}

	info, err := os.Stat(name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		name = filepath.Join(name, indexFile)
		info, err = os.Stat(name)
		if err != nil {
			return "", err
		}
	}
	if !info.Mode().IsRegular() {
		return "", errors.New("not a regular file")
	}
	return name, nil
}

func (s *Server) reply(from, reqPath string, status int, ctype string, body []byte) []byte {
	recordServed(status)
	s.logger.Debug("page request",
		zap.String("peer", from),
		zap.String("path", reqPath),
		zap.Int("status", status),
		zap.Int("bytes", len(body)))

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	fmt.Fprintf(&b, "Content-Type: %s\r\n", ctype)
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(body))
	b.Write(body)
	return b.Bytes()
}
