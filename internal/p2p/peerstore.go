package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qubitcoin-project/qcoind/internal/storage"
)

const (
	peerKeyPrefix = "peer/"

	// staleThreshold is how long since last contact before a persisted
	// peer record is pruned.
	staleThreshold = 24 * time.Hour

	// persistInterval is how often the node prunes stale records from the
	// peer store. Records themselves are saved when a handshake completes.
	persistInterval = 5 * time.Minute

	// maxPersistedPeers caps the registry so a flood of addr gossip can't
	// grow it without bound.
	maxPersistedPeers = 1000
)

// PeerRecord is a persisted peer address, used to reconnect across
// restarts and to answer getaddr requests from other peers.
type PeerRecord struct {
	ID       string `json:"id"`
	Address  string `json:"address"` // host:port
	LastSeen int64  `json:"lastSeen"`
	Source   string `json:"source"` // "seed", "inbound", "addr"
}

// PeerStore persists peer records in a storage.DB under the "peer/" prefix.
type PeerStore struct {
	db storage.DB
}

// NewPeerStore creates a new PeerStore backed by the given DB.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{db: db}
}

func peerKey(id PeerID) []byte {
	return []byte(peerKeyPrefix + string(id))
}

// Save persists a peer record. If the store is already at
// maxPersistedPeers and this is a new peer, the save is silently skipped
// rather than evicting an existing entry — the registry favors whatever
// was already known over new unsolicited addr gossip.
func (ps *PeerStore) Save(rec PeerRecord) error {
	key := peerKey(PeerID(rec.ID))

	exists, err := ps.db.Has(key)
	if err != nil {
		return fmt.Errorf("check peer exists: %w", err)
	}
	if !exists {
		count, err := ps.Count()
		if err != nil {
			return fmt.Errorf("count peers: %w", err)
		}
		if count >= maxPersistedPeers {
			return nil
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal peer record: %w", err)
	}
	return ps.db.Put(key, data)
}

// Load retrieves a single peer record by id.
func (ps *PeerStore) Load(id PeerID) (*PeerRecord, error) {
	data, err := ps.db.Get(peerKey(id))
	if err != nil {
		return nil, fmt.Errorf("get peer record: %w", err)
	}
	var rec PeerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal peer record: %w", err)
	}
	return &rec, nil
}

// LoadAll returns every persisted peer record, ordered by descending
// LastSeen so callers reconnecting or answering getaddr prefer the
// freshest entries first.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var records []PeerRecord
	err := ps.db.ForEach([]byte(peerKeyPrefix), func(key, value []byte) error {
		var rec PeerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peer records: %w", err)
	}
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].LastSeen > records[j-1].LastSeen; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
	return records, nil
}

// Delete removes a peer record.
func (ps *PeerStore) Delete(id PeerID) error {
	return ps.db.Delete(peerKey(id))
}

// PruneStale removes records whose LastSeen is older than threshold.
// Returns the number pruned.
func (ps *PeerStore) PruneStale(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	var toDelete [][]byte

	err := ps.db.ForEach([]byte(peerKeyPrefix), func(key, value []byte) error {
		var rec PeerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			keyCopy := append([]byte(nil), key...)
			toDelete = append(toDelete, keyCopy)
			return nil
		}
		if rec.LastSeen < cutoff {
			keyCopy := append([]byte(nil), key...)
			toDelete = append(toDelete, keyCopy)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate for prune: %w", err)
	}

	for _, k := range toDelete {
		if err := ps.db.Delete(k); err != nil {
			return 0, fmt.Errorf("delete stale peer: %w", err)
		}
	}
	return len(toDelete), nil
}

// Count returns the number of persisted peer records.
func (ps *PeerStore) Count() (int, error) {
	count := 0
	err := ps.db.ForEach([]byte(peerKeyPrefix), func(key, value []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count peers: %w", err)
	}
	return count, nil
}
