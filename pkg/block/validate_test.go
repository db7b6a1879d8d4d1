package block

import (
	"errors"
	"testing"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// testCoinbase returns a minimal coinbase transaction, with its ID stamped.
func testCoinbase() *tx.Transaction {
	t := &tx.Transaction{
		Inputs:    []tx.Input{{TxID: tx.CoinbaseTxID, OutputIndex: tx.CoinbaseOutputIndex}},
		Outputs:   []tx.Output{{Address: types.Address{0x01}, Amount: 1000}},
		Timestamp: 1700000000000,
	}
	t.ID = t.ComputeID()
	return t
}

// signedSpend builds and signs a regular single-input transaction.
func signedSpend(t *testing.T, key *crypto.MLDSAPrivateKey, prevOut types.Outpoint, destAddr types.Address, amount uint64) *tx.Transaction {
	t.Helper()
	b := tx.NewBuilder(1700000001000).
		AddInput(prevOut).
		AddOutput(destAddr, amount).
		Finalize()
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return b.Build()
}

// validBlock creates a minimal valid block with correct hash and merkle root.
func validBlock(t *testing.T) *Block {
	t.Helper()

	coinbase := testCoinbase()
	merkleRoot := ComputeMerkleRoot([]types.Hash{coinbase.ID})

	header := &Header{
		Version:    CurrentVersion,
		PrevHash:   types.Hash{0xaa},
		MerkleRoot: merkleRoot,
		Timestamp:  1700000000000,
	}

	return NewBlock(header, []*tx.Transaction{coinbase}, 1)
}

func TestBlock_Validate_Valid(t *testing.T) {
	blk := validBlock(t)
	if err := blk.Validate(); err != nil {
		t.Errorf("valid block should pass: %v", err)
	}
}

func TestBlock_Validate_NilHeader(t *testing.T) {
	blk := &Block{Header: nil}
	err := blk.Validate()
	if !errors.Is(err, ErrNilHeader) {
		t.Errorf("expected ErrNilHeader, got: %v", err)
	}
}

func TestBlock_Validate_BadHash(t *testing.T) {
	blk := validBlock(t)
	blk.Hash = types.Hash{0xde, 0xad}
	err := blk.Validate()
	if !errors.Is(err, ErrBadHash) {
		t.Errorf("expected ErrBadHash, got: %v", err)
	}
}

func TestBlock_Validate_BadVersion(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = 99
	blk.RecomputeHash()
	err := blk.Validate()
	if !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion, got: %v", err)
	}
}

func TestBlock_Validate_VersionZero(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = 0
	blk.RecomputeHash()
	err := blk.Validate()
	if !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion for version 0, got: %v", err)
	}
}

func TestBlock_Validate_VersionCurrent(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = CurrentVersion
	blk.RecomputeHash()
	if err := blk.Validate(); err != nil {
		t.Errorf("version %d should be valid: %v", CurrentVersion, err)
	}
}

func TestBlock_Validate_VersionAboveMax(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = MaxVersion + 1
	blk.RecomputeHash()
	err := blk.Validate()
	if !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion for version %d, got: %v", MaxVersion+1, err)
	}
}

func TestBlock_Validate_ZeroTimestamp(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Timestamp = 0
	blk.RecomputeHash()
	err := blk.Validate()
	if !errors.Is(err, ErrZeroTimestamp) {
		t.Errorf("expected ErrZeroTimestamp, got: %v", err)
	}
}

func TestBlock_Validate_NoTransactions(t *testing.T) {
	header := &Header{Version: CurrentVersion, Timestamp: 1700000000000}
	blk := &Block{Header: header, Hash: header.Hash(), Transactions: nil}
	err := blk.Validate()
	if !errors.Is(err, ErrNoTransactions) {
		t.Errorf("expected ErrNoTransactions, got: %v", err)
	}
}

func TestBlock_Validate_BadMerkleRoot(t *testing.T) {
	blk := validBlock(t)
	blk.Header.MerkleRoot = types.Hash{0xde, 0xad}
	blk.RecomputeHash()
	err := blk.Validate()
	if !errors.Is(err, ErrBadMerkleRoot) {
		t.Errorf("expected ErrBadMerkleRoot, got: %v", err)
	}
}

func TestBlock_Validate_InvalidTransaction(t *testing.T) {
	coinbase := testCoinbase()
	// A non-coinbase tx with no signature/public key is structurally invalid.
	badTx := &tx.Transaction{
		Inputs:    []tx.Input{{TxID: types.Hash{0x01}, OutputIndex: 0}},
		Outputs:   []tx.Output{{Address: types.Address{0x02}, Amount: 1000}},
		Timestamp: 1700000000500,
	}
	badTx.ID = badTx.ComputeID()

	txs := []*tx.Transaction{coinbase, badTx}
	hashes := []types.Hash{txs[0].ID, txs[1].ID}
	merkle := ComputeMerkleRoot(hashes)

	header := &Header{Version: CurrentVersion, MerkleRoot: merkle, Timestamp: 1700000000000}
	blk := NewBlock(header, txs, 1)

	if err := blk.Validate(); err == nil {
		t.Error("block with invalid tx should fail validation")
	}
}

func TestBlock_Validate_MultipleTxs(t *testing.T) {
	key1, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	key2, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}

	coinbase := testCoinbase()
	t1 := signedSpend(t, key1, types.Outpoint{TxID: types.Hash{0x01}, Index: 0}, types.Address{0x10}, 1000)
	t2 := signedSpend(t, key2, types.Outpoint{TxID: types.Hash{0x02}, Index: 0}, types.Address{0x11}, 2000)

	txs := []*tx.Transaction{coinbase, t1, t2}
	hashes := make([]types.Hash, len(txs))
	for i, transaction := range txs {
		hashes[i] = transaction.ID
	}
	merkle := ComputeMerkleRoot(hashes)

	header := &Header{Version: CurrentVersion, MerkleRoot: merkle, Timestamp: 1700000000000}
	blk := NewBlock(header, txs, 5)

	if err := blk.Validate(); err != nil {
		t.Errorf("multi-tx block should validate: %v", err)
	}
}

func TestBlock_Validate_NoCoinbase(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	transaction := signedSpend(t, key, types.Outpoint{TxID: types.Hash{0x01}, Index: 0}, types.Address{0x10}, 1000)

	merkle := ComputeMerkleRoot([]types.Hash{transaction.ID})
	header := &Header{Version: CurrentVersion, MerkleRoot: merkle, Timestamp: 1700000000000}
	blk := NewBlock(header, []*tx.Transaction{transaction}, 1)

	err = blk.Validate()
	if !errors.Is(err, ErrNoCoinbase) {
		t.Errorf("expected ErrNoCoinbase, got: %v", err)
	}
}

func TestBlock_Validate_MultipleCoinbase(t *testing.T) {
	coinbase1 := testCoinbase()
	coinbase2 := &tx.Transaction{
		Inputs:    []tx.Input{{TxID: tx.CoinbaseTxID, OutputIndex: tx.CoinbaseOutputIndex}},
		Outputs:   []tx.Output{{Address: types.Address{0x02}, Amount: 1000}},
		Timestamp: 1700000000001,
	}
	coinbase2.ID = coinbase2.ComputeID()

	txs := []*tx.Transaction{coinbase1, coinbase2}
	hashes := []types.Hash{txs[0].ID, txs[1].ID}
	merkle := ComputeMerkleRoot(hashes)

	header := &Header{Version: CurrentVersion, MerkleRoot: merkle, Timestamp: 1700000000000}
	blk := NewBlock(header, txs, 1)

	err := blk.Validate()
	if !errors.Is(err, ErrMultipleCoinbase) {
		t.Errorf("expected ErrMultipleCoinbase, got: %v", err)
	}
}

func TestBlock_Validate_DuplicateInputAcrossTxs(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}

	coinbase := testCoinbase()
	t1 := signedSpend(t, key, prevOut, types.Address{0x10}, 1000)
	t2 := signedSpend(t, key, prevOut, types.Address{0x11}, 2000)

	txs := []*tx.Transaction{coinbase, t1, t2}
	hashes := make([]types.Hash, len(txs))
	for i, transaction := range txs {
		hashes[i] = transaction.ID
	}
	merkle := ComputeMerkleRoot(hashes)

	header := &Header{Version: CurrentVersion, MerkleRoot: merkle, Timestamp: 1700000000000}
	blk := NewBlock(header, txs, 1)

	err = blk.Validate()
	if !errors.Is(err, ErrDuplicateBlockInput) {
		t.Errorf("expected ErrDuplicateBlockInput, got: %v", err)
	}
}

func TestBlock_Validate_BlockTooLarge(t *testing.T) {
	bigKey := make([]byte, config.MaxBlockSize)
	coinbase := &tx.Transaction{
		Inputs:    []tx.Input{{TxID: tx.CoinbaseTxID, OutputIndex: tx.CoinbaseOutputIndex, PublicKey: bigKey}},
		Outputs:   []tx.Output{{Address: types.Address{0x01}, Amount: 1000}},
		Timestamp: 1700000000000,
	}
	coinbase.ID = coinbase.ComputeID()

	merkle := ComputeMerkleRoot([]types.Hash{coinbase.ID})
	header := &Header{Version: CurrentVersion, MerkleRoot: merkle, Timestamp: 1700000000000}
	blk := NewBlock(header, []*tx.Transaction{coinbase}, 1)

	err := blk.Validate()
	if !errors.Is(err, ErrBlockTooLarge) {
		t.Errorf("expected ErrBlockTooLarge, got: %v", err)
	}
}

func TestBlock_RecomputeHash(t *testing.T) {
	blk := validBlock(t)
	original := blk.Hash
	blk.Header.Nonce = 12345
	blk.RecomputeHash()
	if blk.Hash == original {
		t.Error("RecomputeHash should change Hash after mutating the header")
	}
	if blk.Hash != blk.Header.Hash() {
		t.Error("RecomputeHash did not sync Hash with Header.Hash()")
	}
}
