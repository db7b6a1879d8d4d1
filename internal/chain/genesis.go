package chain

import (
	"fmt"
	"sort"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/internal/consensus"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// CreateGenesisBlock builds the genesis block from the genesis configuration.
// The genesis block has height 0, a zero PrevHash, and a single coinbase
// transaction distributing the initial allocations. If gen.Snapshot is set,
// its fork message is embedded in the coinbase input's publicKey field so
// the Bitcoin snapshot commitment this chain redeems against is recorded
// on-chain from block zero.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}

	coinbase, err := buildGenesisCoinbase(gen)
	if err != nil {
		return nil, fmt.Errorf("build coinbase: %w", err)
	}

	merkle := block.ComputeMerkleRoot([]types.Hash{coinbase.ID})

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   types.Hash{},
		MerkleRoot: merkle,
		Timestamp:  gen.Timestamp,
		Target:     consensus.InitialTarget,
		Nonce:      0,
	}

	return block.NewBlock(header, []*tx.Transaction{coinbase}, 0), nil
}

// buildGenesisCoinbase creates the genesis coinbase transaction: one output
// per allocation, addresses visited in sorted order for determinism, and
// the snapshot's fork message (if any) embedded as the coinbase input's
// publicKey field.
func buildGenesisCoinbase(gen *config.Genesis) (*tx.Transaction, error) {
	addrs := make([]string, 0, len(gen.Alloc))
	for addr := range gen.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	outputs := make([]tx.Output, 0, len(addrs))
	for _, addrStr := range addrs {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		outputs = append(outputs, tx.Output{Address: addr, Amount: gen.Alloc[addrStr]})
	}
	if len(outputs) == 0 {
		// The genesis block applies outside normal tx.Validate(), so a
		// zero-allocation launch still needs one output to keep the
		// coinbase shape (one input, one-or-more outputs) well-formed.
		outputs = append(outputs, tx.Output{Address: types.Address{}, Amount: 0})
	}

	coinbase := &tx.Transaction{
		Timestamp: gen.Timestamp,
		Inputs: []tx.Input{{
			TxID:        tx.CoinbaseTxID,
			OutputIndex: tx.CoinbaseOutputIndex,
			PublicKey:   []byte(gen.Snapshot.ForkMessage()),
		}},
		Outputs: outputs,
	}
	coinbase.ID = coinbase.ComputeID()

	return coinbase, nil
}
