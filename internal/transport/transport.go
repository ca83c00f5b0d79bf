// Package transport defines the narrow contract the fetch client consumes
// from a mesh transport layer: route discovery, identity recall, links and
// status introspection. Concrete bindings live elsewhere (see internal/mesh);
// tests substitute fakes.
package transport

import (
	"crypto/sha256"
	"strings"

	"github.com/jmerrifield20/meshfetch/pkg/address"
)

// LinkStatus is the lifecycle state of a Link.
type LinkStatus int

const (
	LinkPending LinkStatus = iota
	LinkActive
	LinkClosed
)

// String returns the lowercase state name.
func (s LinkStatus) String() string {
	switch s {
	case LinkPending:
		return "pending"
	case LinkActive:
		return "active"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction of a destination relative to this node.
type Direction int

const (
	In Direction = iota
	Out
)

// DestinationType selects the addressing mode of a destination.
type DestinationType int

const (
	// Single addresses exactly one recipient identity.
	Single DestinationType = iota
)

// Sizes used by the hash derivations.
const (
	nameHashLen     = 10
	identityHashLen = 16
)

// Identity is the recallable public identity of a remote endpoint.
type Identity struct {
	PublicKey []byte
}

// Hash returns the 16-byte identity hash: SHA-256(public key) truncated.
func (id Identity) Hash() []byte {
	sum := sha256.Sum256(id.PublicKey)
	return sum[:identityHashLen]
}

// Destination is a logical address: an identity plus an application name
// and an ordered list of aspects. Both sides must agree on AppName and the
// exact aspect order or the hashes (and the link protocol) differ.
type Destination struct {
	Identity  Identity
	Direction Direction
	Type      DestinationType
	AppName   string
	Aspects   []string
}

// Name returns the dotted "app.aspect1.aspect2" form.
func (d Destination) Name() string {
	return FullName(d.AppName, d.Aspects)
}

// FullHash returns the 32-byte destination hash:
// SHA-256(SHA-256(name)[:10] || identity hash).
func (d Destination) FullHash() []byte {
	nameSum := sha256.Sum256([]byte(d.Name()))
	h := sha256.New()
	h.Write(nameSum[:nameHashLen])
	h.Write(d.Identity.Hash())
	return h.Sum(nil)
}

// Hash returns the 16-byte truncated destination hash.
func (d Destination) Hash() []byte {
	return d.FullHash()[:address.TruncatedLen]
}

// Matches reports whether id names this destination in either its
// truncated or full form.
func (d Destination) Matches(id address.DestinationID) bool {
	full := d.FullHash()
	switch id.Len() {
	case address.FullLen:
		return string(full) == string(id.Bytes())
	case address.TruncatedLen:
		return string(full[:address.TruncatedLen]) == string(id.Bytes())
	default:
		return false
	}
}

// FullName joins an app name and aspects with dots.
func FullName(appName string, aspects []string) string {
	parts := make([]string, 0, len(aspects)+1)
	parts = append(parts, appName)
	parts = append(parts, aspects...)
	return strings.Join(parts, ".")
}

// InterfaceInfo describes one active transport interface.
type InterfaceInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Link is one transport session to a destination. A Link is owned by a single
// fetch and must be torn down by its owner exactly once it is no longer
// needed; implementations make Teardown idempotent.
type Link interface {
	Status() LinkStatus
	// Send transmits data as a single request message.
	Send(data []byte) error
	// OnComplete registers the callback invoked with either the full
	// response payload or a terminal error. It may run on any goroutine.
	OnComplete(fn func(payload []byte, err error))
	Teardown()
}

// Router discovers routes to destinations.
type Router interface {
	RequestRoute(id address.DestinationID) error
	HasRoute(id address.DestinationID) bool
}

// IdentityStore recalls identities learned from the network.
type IdentityStore interface {
	RecallIdentity(id address.DestinationID) (Identity, bool)
}

// Linker opens links to destinations.
type Linker interface {
	OpenLink(dest Destination) (Link, error)
}

// Reporter exposes read-only diagnostic state.
type Reporter interface {
	Interfaces() []InterfaceInfo
	IdentityHash() (string, bool)
}

// Transport is the full capability set a fetch client needs.
type Transport interface {
	Router
	IdentityStore
	Linker
	Reporter
}
