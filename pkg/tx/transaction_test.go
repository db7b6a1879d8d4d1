package tx

import (
	"math"
	"testing"

	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

func TestTransaction_ComputeID_Deterministic(t *testing.T) {
	transaction := &Transaction{
		Inputs:    []Input{{TxID: types.Hash{0x01}, OutputIndex: 0}},
		Outputs:   []Output{{Address: types.Address{0x02}, Amount: 1000}},
		Timestamp: 1700000000000,
	}

	id1 := transaction.ComputeID()
	id2 := transaction.ComputeID()
	if id1 != id2 {
		t.Error("ComputeID() should be deterministic")
	}
	if id1.IsZero() {
		t.Error("ComputeID() should not be zero")
	}
}

func TestTransaction_ComputeID_ChangesWithContent(t *testing.T) {
	tx1 := &Transaction{
		Inputs:  []Input{{TxID: types.Hash{0x01}, OutputIndex: 0}},
		Outputs: []Output{{Address: types.Address{0x02}, Amount: 1000}},
	}
	tx2 := &Transaction{
		Inputs:  []Input{{TxID: types.Hash{0x01}, OutputIndex: 0}},
		Outputs: []Output{{Address: types.Address{0x02}, Amount: 2000}},
	}

	if tx1.ComputeID() == tx2.ComputeID() {
		t.Error("different transactions should have different ids")
	}
}

func TestTransaction_ComputeID_IgnoresSignatureMaterial(t *testing.T) {
	transaction := &Transaction{
		Inputs:  []Input{{TxID: types.Hash{0x01}, OutputIndex: 0}},
		Outputs: []Output{{Address: types.Address{0x02}, Amount: 1000}},
	}

	id1 := transaction.ComputeID()

	transaction.Inputs[0].Signature = []byte("some signature")
	transaction.Inputs[0].PublicKey = []byte("some key")

	id2 := transaction.ComputeID()

	if id1 != id2 {
		t.Error("ComputeID() should not change when signature/pubkey are added")
	}
}

func TestTransaction_TotalOutputValue(t *testing.T) {
	transaction := &Transaction{
		Outputs: []Output{
			{Amount: 1000},
			{Amount: 2000},
			{Amount: 3000},
		},
	}
	got, err := transaction.TotalOutputValue()
	if err != nil {
		t.Fatalf("TotalOutputValue() error: %v", err)
	}
	if got != 6000 {
		t.Errorf("TotalOutputValue() = %d, want 6000", got)
	}
}

func TestTransaction_TotalOutputValue_Empty(t *testing.T) {
	transaction := &Transaction{}
	got, err := transaction.TotalOutputValue()
	if err != nil {
		t.Fatalf("TotalOutputValue() error: %v", err)
	}
	if got != 0 {
		t.Errorf("TotalOutputValue() empty = %d, want 0", got)
	}
}

func TestTransaction_TotalOutputValue_Overflow(t *testing.T) {
	transaction := &Transaction{
		Outputs: []Output{
			{Amount: math.MaxUint64},
			{Amount: 1},
		},
	}
	_, err := transaction.TotalOutputValue()
	if err == nil {
		t.Error("TotalOutputValue() should return error on overflow")
	}
}

func TestTransaction_Size(t *testing.T) {
	transaction := &Transaction{
		Inputs: []Input{
			{TxID: types.Hash{0x01}, OutputIndex: 0, PublicKey: make([]byte, 10), Signature: make([]byte, 20)},
		},
		Outputs: []Output{{Address: types.Address{0x02}, Amount: 1000}},
	}
	want := 32 + 8 + (32 + 4 + 10 + 20) + (32 + 8)
	if got := transaction.Size(); got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
}

func buildSignedTx(t *testing.T, key *crypto.MLDSAPrivateKey, prevOut types.Outpoint, destAddr types.Address, amount uint64) *Transaction {
	t.Helper()
	b := NewBuilder(1700000000000).
		AddInput(prevOut).
		AddOutput(destAddr, amount).
		Finalize()
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return b.Build()
}

func TestBuilder_BuildAndSign(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	addr := types.Address{0x01, 0x02, 0x03}
	prevOut := types.Outpoint{TxID: crypto.Sha256([]byte("prev tx")), Index: 0}

	transaction := buildSignedTx(t, key, prevOut, addr, 5000)

	if len(transaction.Inputs) != 1 {
		t.Fatalf("expected 1 input, got %d", len(transaction.Inputs))
	}
	if len(transaction.Outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(transaction.Outputs))
	}
	if err := transaction.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}
}

func TestBuilder_MultipleInputsOutputs(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}

	b := NewBuilder(1700000000000).
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		AddInput(types.Outpoint{TxID: types.Hash{0x02}, Index: 1}).
		AddOutput(types.Address{0x03}, 3000).
		AddOutput(types.Address{0x04}, 2000).
		Finalize()

	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	transaction := b.Build()

	if len(transaction.Inputs) != 2 {
		t.Errorf("input count = %d, want 2", len(transaction.Inputs))
	}
	if len(transaction.Outputs) != 2 {
		t.Errorf("output count = %d, want 2", len(transaction.Outputs))
	}
	if err := transaction.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}
}

func TestBuilder_SignMulti(t *testing.T) {
	key1, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	key2, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}

	addr1 := crypto.AddressFromPubKey(key1.PublicKey())
	addr2 := crypto.AddressFromPubKey(key2.PublicKey())

	out1 := types.Outpoint{TxID: crypto.Sha256([]byte("tx1")), Index: 0}
	out2 := types.Outpoint{TxID: crypto.Sha256([]byte("tx2")), Index: 1}

	b := NewBuilder(1700000000000).
		AddInput(out1).
		AddInput(out2).
		AddOutput(types.Address{0x99}, 3000).
		Finalize()

	signers := map[types.Address]*crypto.MLDSAPrivateKey{
		addr1: key1,
		addr2: key2,
	}
	outpointAddr := map[types.Outpoint]types.Address{
		out1: addr1,
		out2: addr2,
	}

	if err := b.SignMulti(signers, outpointAddr); err != nil {
		t.Fatalf("SignMulti() error: %v", err)
	}

	transaction := b.Build()

	if err := transaction.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}

	if string(transaction.Inputs[0].PublicKey) == string(transaction.Inputs[1].PublicKey) {
		t.Error("inputs should have different pubkeys")
	}
}

func TestBuilder_SignMulti_SameKeyTwoInputs(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())

	out1 := types.Outpoint{TxID: crypto.Sha256([]byte("tx1")), Index: 0}
	out2 := types.Outpoint{TxID: crypto.Sha256([]byte("tx2")), Index: 0}

	b := NewBuilder(1700000000000).
		AddInput(out1).
		AddInput(out2).
		AddOutput(types.Address{0x99}, 5000).
		Finalize()

	signers := map[types.Address]*crypto.MLDSAPrivateKey{addr: key}
	outpointAddr := map[types.Outpoint]types.Address{
		out1: addr,
		out2: addr,
	}

	if err := b.SignMulti(signers, outpointAddr); err != nil {
		t.Fatalf("SignMulti() error: %v", err)
	}

	transaction := b.Build()
	if err := transaction.VerifySignatures(); err != nil {
		t.Errorf("VerifySignatures() error: %v", err)
	}

	if string(transaction.Inputs[0].Signature) != string(transaction.Inputs[1].Signature) {
		t.Error("same key should produce same signature (cache)")
	}
}

func TestBuilder_SignMulti_MissingAddress(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())

	out1 := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}

	b := NewBuilder(1700000000000).
		AddInput(out1).
		AddOutput(types.Address{}, 1000).
		Finalize()

	signers := map[types.Address]*crypto.MLDSAPrivateKey{addr: key}
	outpointAddr := map[types.Outpoint]types.Address{}

	if err := b.SignMulti(signers, outpointAddr); err == nil {
		t.Fatal("expected error for missing address mapping")
	}
}

func TestBuilder_SignMulti_MissingSigner(t *testing.T) {
	out1 := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	addr := types.Address{0xAA}

	b := NewBuilder(1700000000000).
		AddInput(out1).
		AddOutput(types.Address{}, 1000).
		Finalize()

	signers := map[types.Address]*crypto.MLDSAPrivateKey{}
	outpointAddr := map[types.Outpoint]types.Address{out1: addr}

	if err := b.SignMulti(signers, outpointAddr); err == nil {
		t.Fatal("expected error for missing signer")
	}
}
