// Package snapshot loads the Bitcoin UTXO snapshot that seeds the claim
// mechanism: a fork-genesis commitment to a set of redeemable BTC balances,
// each claimable exactly once against a qcoin address.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/qubitcoin-project/qcoind/internal/utxo"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// kindNames maps the on-disk address-kind string to its crypto.BtcAddressKind.
var kindNames = map[string]crypto.BtcAddressKind{
	"p2pkh":   crypto.P2PKHOrP2WPKH,
	"p2wpkh":  crypto.P2PKHOrP2WPKH,
	"p2sh":    crypto.P2SHWrappedP2WPKH,
	"p2tr":    crypto.P2TR,
	"p2wsh":   crypto.P2WSH,
}

// rawEntry is a single snapshot-file entry as it appears on disk.
type rawEntry struct {
	BtcAddress string `json:"btcAddress"`
	Amount     uint64 `json:"amount"`
	Kind       string `json:"kind"`
}

// rawFile is the on-disk shape of a snapshot file (spec §4.5's
// Snapshot{btcBlockHeight, btcBlockHash, btcTimestamp, entries[], merkleRoot}).
type rawFile struct {
	BtcBlockHeight uint64     `json:"btcBlockHeight"`
	BtcBlockHash   string     `json:"btcBlockHash"`
	BtcTimestamp   int64      `json:"btcTimestamp"`
	Entries        []rawEntry `json:"entries"`
	MerkleRoot     string     `json:"merkleRoot"`
}

// Entry mirrors utxo.SnapshotEntry plus the address it was indexed under,
// for iteration (e.g. RPC claim-stats views).
type Entry struct {
	BtcAddress string
	Amount     uint64
	Kind       crypto.BtcAddressKind
}

// Snapshot is the loaded, merkle-verified claim snapshot. It implements
// utxo.Snapshot.
type Snapshot struct {
	blockHeight uint64
	blockHash   string
	timestamp   int64
	merkleRoot  string
	index       map[string]Entry
}

// leafHash returns the merkle leaf hash for one snapshot entry: double
// SHA-256 of its canonical fields, so the recomputed root binds the exact
// address/amount/kind triple rather than just the address.
func leafHash(e rawEntry) (types.Hash, error) {
	kind, ok := kindNames[e.Kind]
	if !ok {
		return types.Hash{}, fmt.Errorf("unknown address kind %q for %s", e.Kind, e.BtcAddress)
	}
	payload := fmt.Sprintf("%s:%d:%d", e.BtcAddress, e.Amount, kind)
	return crypto.Sha256d([]byte(payload)), nil
}

// Load reads a snapshot file, recomputes its merkle root over the entry
// set, and rejects the file if the recomputed root doesn't match the
// recorded one (§4.5: "the core verifies merkleRoot == recomputed").
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}

	var raw rawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing snapshot file: %w", err)
	}
	if raw.BtcBlockHash == "" {
		return nil, fmt.Errorf("snapshot missing btcBlockHash")
	}

	leaves := make([]types.Hash, len(raw.Entries))
	index := make(map[string]Entry, len(raw.Entries))
	for i, e := range raw.Entries {
		h, err := leafHash(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		leaves[i] = h
		if _, dup := index[e.BtcAddress]; dup {
			return nil, fmt.Errorf("duplicate btcAddress %q in snapshot", e.BtcAddress)
		}
		index[e.BtcAddress] = Entry{BtcAddress: e.BtcAddress, Amount: e.Amount, Kind: kindNames[e.Kind]}
	}

	got := block.ComputeMerkleRoot(leaves).String()
	if got != raw.MerkleRoot {
		return nil, fmt.Errorf("snapshot merkle root mismatch: file says %s, recomputed %s", raw.MerkleRoot, got)
	}

	return &Snapshot{
		blockHeight: raw.BtcBlockHeight,
		blockHash:   raw.BtcBlockHash,
		timestamp:   raw.BtcTimestamp,
		merkleRoot:  raw.MerkleRoot,
		index:       index,
	}, nil
}

// Lookup satisfies utxo.Snapshot: it returns the redeemable entry for a
// Bitcoin address, if any.
func (s *Snapshot) Lookup(btcAddress string) (utxo.SnapshotEntry, bool) {
	e, found := s.index[btcAddress]
	if !found {
		return utxo.SnapshotEntry{}, false
	}
	return utxo.SnapshotEntry{Amount: e.Amount, Kind: e.Kind}, true
}

// BlockHash satisfies utxo.Snapshot: the BTC block hash the claim
// signature digest is bound to.
func (s *Snapshot) BlockHash() string {
	return s.blockHash
}

// BlockHeight returns the BTC block height this snapshot was captured at.
func (s *Snapshot) BlockHeight() uint64 {
	return s.blockHeight
}

// Timestamp returns the BTC block timestamp (milliseconds) this snapshot
// was captured at.
func (s *Snapshot) Timestamp() int64 {
	return s.timestamp
}

// MerkleRoot returns the verified merkle root of the entry set.
func (s *Snapshot) MerkleRoot() string {
	return s.merkleRoot
}

// Len returns the number of redeemable entries.
func (s *Snapshot) Len() int {
	return len(s.index)
}

// Entries returns every snapshot entry, for read-only enumeration (e.g.
// RPC/explorer views). The returned slice is a fresh copy.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, 0, len(s.index))
	for _, e := range s.index {
		out = append(out, e)
	}
	return out
}
