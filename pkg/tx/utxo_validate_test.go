package tx

import (
	"errors"
	"testing"

	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// mockUTXOProvider is a simple in-memory UTXO provider for testing.
type mockUTXOProvider struct {
	utxos map[types.Outpoint]mockUTXO
}

type mockUTXO struct {
	address types.Address
	amount  uint64
}

func newMockProvider() *mockUTXOProvider {
	return &mockUTXOProvider{utxos: make(map[types.Outpoint]mockUTXO)}
}

func (m *mockUTXOProvider) add(op types.Outpoint, address types.Address, amount uint64) {
	m.utxos[op] = mockUTXO{address: address, amount: amount}
}

func (m *mockUTXOProvider) GetUTXO(op types.Outpoint) (types.Address, uint64, bool) {
	u, ok := m.utxos[op]
	if !ok {
		return types.Address{}, 0, false
	}
	return u.address, u.amount, true
}

func signedSpend(t *testing.T, key *crypto.MLDSAPrivateKey, prevOut types.Outpoint, destAddr types.Address, amount uint64) *Transaction {
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

func TestValidateWithUTXOs_Valid(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())

	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	provider := newMockProvider()
	provider.add(prevOut, addr, 5000)

	transaction := signedSpend(t, key, prevOut, types.Address{0x02}, 4000)

	fee, err := transaction.ValidateWithUTXOs(provider)
	if err != nil {
		t.Fatalf("ValidateWithUTXOs() error: %v", err)
	}
	if fee != 1000 {
		t.Errorf("fee = %d, want 1000", fee)
	}
}

func TestValidateWithUTXOs_InputNotFound(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	provider := newMockProvider()

	transaction := signedSpend(t, key, prevOut, types.Address{0x02}, 1000)

	_, err = transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrInputNotFound) {
		t.Errorf("expected ErrInputNotFound, got: %v", err)
	}
}

func TestValidateWithUTXOs_AddressMismatch(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	provider := newMockProvider()
	provider.add(prevOut, types.Address{0xAA}, 5000) // Wrong address for key.

	transaction := signedSpend(t, key, prevOut, types.Address{0x02}, 1000)

	_, err = transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrAddressMismatch) {
		t.Errorf("expected ErrAddressMismatch, got: %v", err)
	}
}

func TestValidateWithUTXOs_InsufficientFee(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	provider := newMockProvider()
	provider.add(prevOut, addr, 1000)

	transaction := signedSpend(t, key, prevOut, types.Address{0x02}, 5000) // Spending more than available.

	_, err = transaction.ValidateWithUTXOs(provider)
	if !errors.Is(err, ErrInsufficientFee) {
		t.Errorf("expected ErrInsufficientFee, got: %v", err)
	}
}

func TestValidateWithUTXOs_ExactAmount(t *testing.T) {
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("GenerateMLDSAKey() error: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())
	prevOut := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	provider := newMockProvider()
	provider.add(prevOut, addr, 5000)

	transaction := signedSpend(t, key, prevOut, types.Address{0x02}, 5000)

	fee, err := transaction.ValidateWithUTXOs(provider)
	if err != nil {
		t.Fatalf("ValidateWithUTXOs() error: %v", err)
	}
	if fee != 0 {
		t.Errorf("fee = %d, want 0", fee)
	}
}

func TestValidateWithUTXOs_RejectsCoinbase(t *testing.T) {
	coinbase := &Transaction{
		Inputs:  []Input{{TxID: CoinbaseTxID, OutputIndex: CoinbaseOutputIndex}},
		Outputs: []Output{{Address: types.Address{0x01}, Amount: 1000}},
	}
	provider := newMockProvider()
	if _, err := coinbase.ValidateWithUTXOs(provider); err == nil {
		t.Error("expected error validating a coinbase tx through ValidateWithUTXOs")
	}
}

func TestValidateWithUTXOs_RejectsClaim(t *testing.T) {
	claim := &Transaction{
		Inputs:  []Input{{TxID: ClaimTxID}},
		Outputs: []Output{{Address: types.Address{0x01}, Amount: 1000}},
		ClaimData: &ClaimData{
			BtcAddress:     "abcdef0123456789abcdef0123456789abcdef01",
			EcdsaPublicKey: make([]byte, 33),
			Signature:      []byte("sig"),
			QcoinAddress:   types.Address{0x01},
		},
	}
	provider := newMockProvider()
	if _, err := claim.ValidateWithUTXOs(provider); err == nil {
		t.Error("expected error validating a claim tx through ValidateWithUTXOs")
	}
}

func TestValidateWithUTXOs_MultipleInputs(t *testing.T) {
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

	out1 := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	out2 := types.Outpoint{TxID: types.Hash{0x02}, Index: 0}
	provider := newMockProvider()
	provider.add(out1, addr1, 3000)
	provider.add(out2, addr2, 2000)

	b := NewBuilder(1700000000000).
		AddInput(out1).
		AddInput(out2).
		AddOutput(types.Address{0x03}, 4500).
		Finalize()

	signers := map[types.Address]*crypto.MLDSAPrivateKey{addr1: key1, addr2: key2}
	outpointAddr := map[types.Outpoint]types.Address{out1: addr1, out2: addr2}
	if err := b.SignMulti(signers, outpointAddr); err != nil {
		t.Fatalf("SignMulti() error: %v", err)
	}
	transaction := b.Build()

	fee, err := transaction.ValidateWithUTXOs(provider)
	if err != nil {
		t.Fatalf("ValidateWithUTXOs() error: %v", err)
	}
	if fee != 500 {
		t.Errorf("fee = %d, want 500", fee)
	}
}
