package utxo

import (
	"fmt"

	"github.com/qubitcoin-project/qcoind/internal/storage"
	"github.com/qubitcoin-project/qcoind/pkg/crypto"
)

// SnapshotEntry is a single redeemable Bitcoin balance recorded by a loaded
// claim snapshot.
type SnapshotEntry struct {
	Amount uint64
	Kind   crypto.BtcAddressKind
}

// Snapshot is the read-only view over a loaded Bitcoin claim snapshot that
// claim-transaction validators consult. Whatever loads a snapshot is
// responsible for verifying its own merkle root before handing it to a
// consumer; Lookup results are trusted as-is.
type Snapshot interface {
	Lookup(btcAddress string) (SnapshotEntry, bool)
	BlockHash() string
}

// prefixClaim indexes Bitcoin addresses that have already redeemed their
// snapshot balance: c/<btcAddress> -> qcoin address that received it.
var prefixClaim = []byte("c/")

// ClaimStore tracks which snapshot-eligible Bitcoin addresses have already
// been claimed, so a claim transaction can never redeem the same balance
// twice.
type ClaimStore struct {
	db storage.DB
}

// NewClaimStore creates a claim registry backed by the given database.
func NewClaimStore(db storage.DB) *ClaimStore {
	return &ClaimStore{db: db}
}

func claimKey(btcAddress string) []byte {
	return append(append([]byte{}, prefixClaim...), []byte(btcAddress)...)
}

// IsClaimed reports whether btcAddress has already redeemed its snapshot
// balance.
func (c *ClaimStore) IsClaimed(btcAddress string) (bool, error) {
	return c.db.Has(claimKey(btcAddress))
}

// MarkClaimed records that btcAddress has redeemed its snapshot balance to
// qcoinAddress. Returns an error if it was already claimed.
func (c *ClaimStore) MarkClaimed(btcAddress, qcoinAddress string) error {
	claimed, err := c.IsClaimed(btcAddress)
	if err != nil {
		return fmt.Errorf("check claim status: %w", err)
	}
	if claimed {
		return fmt.Errorf("btc address %s already claimed", btcAddress)
	}
	if err := c.db.Put(claimKey(btcAddress), []byte(qcoinAddress)); err != nil {
		return fmt.Errorf("mark claimed: %w", err)
	}
	return nil
}

// Unclaim reverses a claim, for use when undoing a block during a reorg.
func (c *ClaimStore) Unclaim(btcAddress string) error {
	return c.db.Delete(claimKey(btcAddress))
}

// Count returns the number of Bitcoin addresses that have redeemed their
// snapshot balance so far.
func (c *ClaimStore) Count() (int, error) {
	count := 0
	if err := c.db.ForEach(prefixClaim, func(_, _ []byte) error {
		count++
		return nil
	}); err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	return count, nil
}

// ClearAll removes every claim record. Used when rebuilding the claim
// registry from scratch alongside the UTXO set, after a crash mid-reorg or
// a missing-undo-data fallback.
func (c *ClaimStore) ClearAll() error {
	var keys [][]byte
	if err := c.db.ForEach(prefixClaim, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	}); err != nil {
		return fmt.Errorf("scan claims: %w", err)
	}
	for _, key := range keys {
		if err := c.db.Delete(key); err != nil {
			return fmt.Errorf("delete claim key: %w", err)
		}
	}
	return nil
}
