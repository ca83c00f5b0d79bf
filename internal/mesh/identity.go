package mesh

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/jmerrifield20/meshfetch/internal/transport"
)

// LoadOrCreateKey reads a base64 libp2p private key from path, generating
// and persisting a new Ed25519 key when the file does not exist. An empty
// path yields an ephemeral key.
func LoadOrCreateKey(path string) (crypto.PrivKey, error) {
	if path == "" {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		return priv, err
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("decode identity %s: %w", path, err)
		}
		priv, err := crypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal identity %s: %w", path, err)
		}
		return priv, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read identity %s: %w", path, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := saveKey(priv, path); err != nil {
		return nil, err
	}
	return priv, nil
}

func saveKey(priv crypto.PrivKey, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(enc), 0o600); err != nil {
		return fmt.Errorf("write identity %s: %w", path, err)
	}
	return nil
}

// identityOf returns the transport identity for a libp2p public key.
func identityOf(pub crypto.PubKey) (transport.Identity, error) {
	raw, err := pub.Raw()
	if err != nil {
		return transport.Identity{}, fmt.Errorf("raw public key: %w", err)
	}
	return transport.Identity{PublicKey: raw}, nil
}

// peerOf derives the libp2p peer ID owning a transport identity.
func peerOf(id transport.Identity) (peer.ID, error) {
	pub, err := crypto.UnmarshalEd25519PublicKey(id.PublicKey)
	if err != nil {
		return "", fmt.Errorf("unmarshal public key: %w", err)
	}
	return peer.IDFromPublicKey(pub)
}
