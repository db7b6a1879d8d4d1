package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Denomination constants.
// 1 coin = 10^8 base units, matching Bitcoin's satoshi convention since
// claim amounts are carried over directly from a Bitcoin UTXO snapshot.
const (
	Decimals = 8
	Coin     = 100_000_000 // 10^8 base units per coin
)

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize = 1_048_576 // Max block size in bytes (header + all tx sizes).
	MaxTxInputs  = 2500      // Max inputs per transaction.
	MaxTxOutputs = 2500      // Max outputs per transaction.
)

// Coinbase subsidy schedule: halves every HalvingInterval blocks from
// InitialSubsidy, Bitcoin-style, until it rounds to zero.
const (
	InitialSubsidy  uint64 = 50 * Coin
	HalvingInterval uint64 = 210_000
)

// Subsidy returns the block reward for the coinbase at the given height,
// excluding fees.
func Subsidy(height uint64) uint64 {
	halvings := height / HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return InitialSubsidy >> halvings
}

// SnapshotCommitment anchors the chain to a specific Bitcoin block whose
// UTXO set was captured into a claim snapshot. Once set, genesis embeds
// "QCOIN_FORK:height:btcBlockHash:merkleRoot" into the coinbase input's
// publicKey field so the commitment is verifiable on-chain.
type SnapshotCommitment struct {
	BtcBlockHeight uint64 `json:"btc_block_height"`
	BtcBlockHash   string `json:"btc_block_hash"`
	MerkleRoot     string `json:"merkle_root"`
}

// ForkMessage returns the genesis coinbase message committing to the
// snapshot, or "" if no snapshot is configured.
func (s *SnapshotCommitment) ForkMessage() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("QCOIN_FORK:%d:%s:%s", s.BtcBlockHeight, s.BtcBlockHash, s.MerkleRoot)
}

// Genesis holds the genesis block configuration and protocol identity.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	// Genesis block
	Timestamp int64  `json:"timestamp"` // milliseconds
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations (address hex -> balance in base units), separate
	// from claim-redeemed balances which flow through claim transactions
	// after genesis rather than through this map.
	Alloc map[string]uint64 `json:"alloc"`

	// Optional Bitcoin snapshot commitment (nil = no claim mechanism active).
	Snapshot *SnapshotCommitment `json:"snapshot,omitempty"`
}

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "qcoin-mainnet-1",
		ChainName: "QubitCoin Mainnet",
		Symbol:    "QTC",
		Timestamp: 1780000000000,
		ExtraData: "QubitCoin Genesis",
		Alloc:     map[string]uint64{},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "qcoin-testnet-1"
	g.ChainName = "QubitCoin Testnet"
	g.ExtraData = "QubitCoin Testnet Genesis"
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}
	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}
	for addrStr := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
	}
	return nil
}

// Hash returns a double-SHA-256 hash of the genesis configuration. The P2P
// handshake does not use it; it compares genesis block hashes instead.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Sha256d(data), nil
}
