package p2p

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// PeerID identifies a peer for the lifetime of a connection. Unlike a
// libp2p peer.ID it is not cryptographically bound to a key the remote
// side must prove possession of — the protocol has no such requirement.
// A connected peer's PeerID is its remote host:port, used as the key for
// peer/ban bookkeeping. The node's own id from LoadOrCreateIdentity appears
// in logs and net_getNodeInfo; it is not sent in the version message.
type PeerID string

// identityFile is the file under a node's data directory holding its
// persisted self-identifier, so restarts keep presenting the same id.
const identityFile = "node.id"

// LoadOrCreateIdentity loads a persisted peer id from dataDir, generating
// and saving a fresh random one if none exists yet.
func LoadOrCreateIdentity(dataDir string) (PeerID, error) {
	path := filepath.Join(dataDir, identityFile)

	data, err := os.ReadFile(path)
	if err == nil {
		return PeerID(string(data)), nil
	}

	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate node id: %w", err)
	}
	id := PeerID(hex.EncodeToString(raw))

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("save node id: %w", err)
	}
	return id, nil
}

// Short returns a truncated id suitable for log lines.
func (id PeerID) Short() string {
	s := string(id)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
