package fetch

import (
	"os"
	"runtime"
	"time"

	"github.com/jmerrifield20/meshfetch/internal/transport"
)

// Status is a snapshot of the client's transport state.
type Status struct {
	IdentityHash     *string                   `json:"identity_hash"`
	Interfaces       []transport.InterfaceInfo `json:"interfaces"`
	Initialized      bool                      `json:"initialized"`
	Version          string                    `json:"version"`
	GoVersion        string                    `json:"go_version"`
	WorkingDirectory string                    `json:"working_directory"`
	Timestamp        string                    `json:"timestamp"`
}

// Status reads the current transport state. It never fails; a client
// without a transport reports Initialized false.
func (c *Client) Status() *Status {
	s := &Status{
		Interfaces: []transport.InterfaceInfo{},
		Version:    c.version,
		GoVersion:  runtime.Version(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if wd, err := os.Getwd(); err == nil {
		s.WorkingDirectory = wd
	}

	if c.tr == nil {
		return s
	}
	s.Initialized = true
	if h, ok := c.tr.IdentityHash(); ok {
		s.IdentityHash = &h
	}
	if ifaces := c.tr.Interfaces(); len(ifaces) > 0 {
		s.Interfaces = append(s.Interfaces, ifaces...)
	}
	return s
}
