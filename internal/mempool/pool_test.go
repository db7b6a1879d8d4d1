package mempool

import (
	"errors"
	"testing"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// mockUTXOs is a minimal in-memory tx.UTXOProvider for tests.
type mockUTXOs struct {
	utxos map[types.Outpoint]mockEntry
}

type mockEntry struct {
	address types.Address
	amount  uint64
}

func newMockUTXOs() *mockUTXOs {
	return &mockUTXOs{utxos: make(map[types.Outpoint]mockEntry)}
}

func (m *mockUTXOs) add(op types.Outpoint, addr types.Address, amount uint64) {
	m.utxos[op] = mockEntry{address: addr, amount: amount}
}

func (m *mockUTXOs) remove(op types.Outpoint) {
	delete(m.utxos, op)
}

func (m *mockUTXOs) GetUTXO(op types.Outpoint) (types.Address, uint64, bool) {
	e, ok := m.utxos[op]
	return e.address, e.amount, ok
}

func testKey(t *testing.T) (*crypto.MLDSAPrivateKey, types.Address) {
	t.Helper()
	key, err := crypto.GenerateMLDSAKey()
	if err != nil {
		t.Fatalf("generate ml-dsa key: %v", err)
	}
	return key, crypto.AddressFromPubKey(key.PublicKey())
}

// buildSpend constructs a signed regular transaction spending a single
// input for the given amount, paying out with the given fee withheld.
func buildSpend(t *testing.T, key *crypto.MLDSAPrivateKey, input types.Outpoint, inputAmount uint64, to types.Address, fee uint64, timestamp int64) *tx.Transaction {
	t.Helper()
	b := tx.NewBuilder(timestamp).
		AddInput(input).
		AddOutput(to, inputAmount-fee).
		Finalize()
	if err := b.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return b.Build()
}

func TestAdd_AcceptsValidRegularTransaction(t *testing.T) {
	p := New(0)
	key, addr := testKey(t)
	_, toAddr := testKey(t)

	utxos := newMockUTXOs()
	op := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	utxos.add(op, addr, 100*config.Coin)

	transaction := buildSpend(t, key, op, 100*config.Coin, toAddr, config.Coin, 1)

	fee, err := p.Add(transaction, utxos, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if fee != config.Coin {
		t.Fatalf("fee = %d, want %d", fee, config.Coin)
	}
	if !p.Has(transaction.ID) {
		t.Fatal("expected transaction to be admitted")
	}
	if p.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", p.Size())
	}
}

func TestAdd_RejectsDuplicate(t *testing.T) {
	p := New(0)
	key, addr := testKey(t)
	_, toAddr := testKey(t)

	utxos := newMockUTXOs()
	op := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	utxos.add(op, addr, 100*config.Coin)

	transaction := buildSpend(t, key, op, 100*config.Coin, toAddr, config.Coin, 1)
	if _, err := p.Add(transaction, utxos, nil); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := p.Add(transaction, utxos, nil); err != ErrAlreadyExists {
		t.Fatalf("second Add error = %v, want ErrAlreadyExists", err)
	}
}

func TestAdd_RejectsDoubleSpendConflict(t *testing.T) {
	p := New(0)
	key, addr := testKey(t)
	_, toAddr1 := testKey(t)
	_, toAddr2 := testKey(t)

	utxos := newMockUTXOs()
	op := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	utxos.add(op, addr, 100*config.Coin)

	tx1 := buildSpend(t, key, op, 100*config.Coin, toAddr1, config.Coin, 1)
	tx2 := buildSpend(t, key, op, 100*config.Coin, toAddr2, config.Coin, 2)

	if _, err := p.Add(tx1, utxos, nil); err != nil {
		t.Fatalf("Add(tx1): %v", err)
	}
	if _, err := p.Add(tx2, utxos, nil); err == nil {
		t.Fatal("expected conflict rejecting tx2 spending the same input")
	}
}

func TestAdd_RejectsUnresolvedInput(t *testing.T) {
	p := New(0)
	key, _ := testKey(t)
	_, toAddr := testKey(t)

	utxos := newMockUTXOs()
	op := types.Outpoint{TxID: types.Hash{9}, Index: 0}

	transaction := buildSpend(t, key, op, 100*config.Coin, toAddr, config.Coin, 1)
	if _, err := p.Add(transaction, utxos, nil); err == nil {
		t.Fatal("expected rejection for an input with no backing UTXO")
	}
}

func TestAdd_RejectsBelowMinFeeRate(t *testing.T) {
	p := New(1_000_000_000) // deliberately unreachable floor
	key, addr := testKey(t)
	_, toAddr := testKey(t)

	utxos := newMockUTXOs()
	op := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	utxos.add(op, addr, 100*config.Coin)

	transaction := buildSpend(t, key, op, 100*config.Coin, toAddr, config.Coin, 1)
	_, err := p.Add(transaction, utxos, nil)
	if err == nil {
		t.Fatal("expected rejection for fee rate below the floor")
	}
}

func claimTx(t *testing.T, btcAddr string, qcoinAddr types.Address, amount uint64, timestamp int64) *tx.Transaction {
	t.Helper()
	transaction := &tx.Transaction{
		Timestamp: timestamp,
		Inputs:    []tx.Input{{TxID: tx.ClaimTxID}},
		Outputs:   []tx.Output{{Address: qcoinAddr, Amount: amount}},
		ClaimData: &tx.ClaimData{
			BtcAddress:     btcAddr,
			EcdsaPublicKey: []byte{0x02, 0x01},
			Signature:      []byte{0x30, 0x01},
			QcoinAddress:   qcoinAddr,
		},
	}
	transaction.ID = transaction.ComputeID()
	return transaction
}

func TestAdd_AcceptsClaimWithoutSnapshot(t *testing.T) {
	p := New(0)
	_, qAddr := testKey(t)

	transaction := claimTx(t, "1ExampleBtcAddress", qAddr, 5*config.Coin, 1)
	if _, err := p.Add(transaction, nil, nil); err != nil {
		t.Fatalf("Add(claim): %v", err)
	}
	if !p.Has(transaction.ID) {
		t.Fatal("expected claim to be admitted")
	}
}

func TestAdd_RejectsClaimAlreadyOnChain(t *testing.T) {
	p := New(0)
	_, qAddr := testKey(t)

	transaction := claimTx(t, "1ExampleBtcAddress", qAddr, 5*config.Coin, 1)
	alreadyClaimed := func(btcAddress string) bool { return btcAddress == "1ExampleBtcAddress" }

	if _, err := p.Add(transaction, nil, alreadyClaimed); !errors.Is(err, ErrClaimAlreadyOnChain) {
		t.Fatalf("error = %v, want ErrClaimAlreadyOnChain", err)
	}
}

func TestAdd_RejectsDuplicatePendingClaim(t *testing.T) {
	p := New(0)
	_, qAddr1 := testKey(t)
	_, qAddr2 := testKey(t)

	tx1 := claimTx(t, "1ExampleBtcAddress", qAddr1, 5*config.Coin, 1)
	tx2 := claimTx(t, "1ExampleBtcAddress", qAddr2, 5*config.Coin, 2)

	if _, err := p.Add(tx1, nil, nil); err != nil {
		t.Fatalf("Add(tx1): %v", err)
	}
	if _, err := p.Add(tx2, nil, nil); !errors.Is(err, ErrClaimPending) {
		t.Fatalf("error = %v, want ErrClaimPending", err)
	}
}

func TestRemove_ReleasesLocks(t *testing.T) {
	p := New(0)
	key, addr := testKey(t)
	_, toAddr := testKey(t)

	utxos := newMockUTXOs()
	op := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	utxos.add(op, addr, 100*config.Coin)

	tx1 := buildSpend(t, key, op, 100*config.Coin, toAddr, config.Coin, 1)
	if _, err := p.Add(tx1, utxos, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	p.Remove([]types.Hash{tx1.ID})

	if p.Has(tx1.ID) {
		t.Fatal("expected transaction to be removed")
	}

	tx2 := buildSpend(t, key, op, 100*config.Coin, toAddr, config.Coin, 2)
	if _, err := p.Add(tx2, utxos, nil); err != nil {
		t.Fatalf("Add after release should succeed: %v", err)
	}
}

func TestRevalidate_EvictsUnresolvedRegularTx(t *testing.T) {
	p := New(0)
	key, addr := testKey(t)
	_, toAddr := testKey(t)

	utxos := newMockUTXOs()
	op := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	utxos.add(op, addr, 100*config.Coin)

	transaction := buildSpend(t, key, op, 100*config.Coin, toAddr, config.Coin, 1)
	if _, err := p.Add(transaction, utxos, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Simulate the input having been spent on-chain out from under the pool.
	utxos.remove(op)
	p.Revalidate(utxos, nil)

	if p.Has(transaction.ID) {
		t.Fatal("expected transaction with a now-unresolved input to be evicted")
	}
	if p.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", p.Size())
	}
}

func TestRevalidate_EvictsNowClaimedBtcAddress(t *testing.T) {
	p := New(0)
	_, qAddr := testKey(t)

	transaction := claimTx(t, "1ExampleBtcAddress", qAddr, 5*config.Coin, 1)
	if _, err := p.Add(transaction, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	isClaimed := func(btcAddress string) bool { return btcAddress == "1ExampleBtcAddress" }
	p.Revalidate(newMockUTXOs(), isClaimed)

	if p.Has(transaction.ID) {
		t.Fatal("expected now-confirmed claim to be evicted")
	}
}

func TestGetTransactionsForBlock_ClaimsFirstThenFeeRateDescending(t *testing.T) {
	p := New(0)
	key, addr := testKey(t)
	_, toAddr := testKey(t)
	_, qAddr := testKey(t)

	utxos := newMockUTXOs()
	opLow := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	opHigh := types.Outpoint{TxID: types.Hash{2}, Index: 0}
	utxos.add(opLow, addr, 100*config.Coin)
	utxos.add(opHigh, addr, 100*config.Coin)

	lowFee := buildSpend(t, key, opLow, 100*config.Coin, toAddr, config.Coin/100, 1)
	highFee := buildSpend(t, key, opHigh, 100*config.Coin, toAddr, config.Coin, 2)
	claim := claimTx(t, "1ExampleBtcAddress", qAddr, 5*config.Coin, 3)

	if _, err := p.Add(lowFee, utxos, nil); err != nil {
		t.Fatalf("Add(lowFee): %v", err)
	}
	if _, err := p.Add(claim, nil, nil); err != nil {
		t.Fatalf("Add(claim): %v", err)
	}
	if _, err := p.Add(highFee, utxos, nil); err != nil {
		t.Fatalf("Add(highFee): %v", err)
	}

	ordered := p.GetTransactionsForBlock()
	if len(ordered) != 3 {
		t.Fatalf("len = %d, want 3", len(ordered))
	}
	if ordered[0].ID != claim.ID {
		t.Fatalf("expected claim transaction first, got %s", ordered[0].ID)
	}
	if ordered[1].ID != highFee.ID || ordered[2].ID != lowFee.ID {
		t.Fatal("expected regular transactions ordered by descending fee rate")
	}
}

func TestGetTransactionsForBlock_TiesBrokenByInsertionOrder(t *testing.T) {
	p := New(0)
	key, addr := testKey(t)
	_, toAddr := testKey(t)

	utxos := newMockUTXOs()
	opA := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	opB := types.Outpoint{TxID: types.Hash{2}, Index: 0}
	utxos.add(opA, addr, 100*config.Coin)
	utxos.add(opB, addr, 100*config.Coin)

	// Identical fee rate on both: insertion order must decide.
	first := buildSpend(t, key, opA, 100*config.Coin, toAddr, config.Coin, 1)
	second := buildSpend(t, key, opB, 100*config.Coin, toAddr, config.Coin, 2)

	if _, err := p.Add(first, utxos, nil); err != nil {
		t.Fatalf("Add(first): %v", err)
	}
	if _, err := p.Add(second, utxos, nil); err != nil {
		t.Fatalf("Add(second): %v", err)
	}

	ordered := p.GetTransactionsForBlock()
	if len(ordered) != 2 {
		t.Fatalf("len = %d, want 2", len(ordered))
	}
	if ordered[0].ID != first.ID || ordered[1].ID != second.ID {
		t.Fatal("expected tie to be broken by ascending insertion order")
	}
}

func TestClear(t *testing.T) {
	p := New(0)
	_, qAddr := testKey(t)
	transaction := claimTx(t, "1ExampleBtcAddress", qAddr, 5*config.Coin, 1)
	if _, err := p.Add(transaction, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	p.Clear()
	if p.Size() != 0 || p.SizeBytes() != 0 {
		t.Fatalf("expected empty pool after Clear, got size=%d bytes=%d", p.Size(), p.SizeBytes())
	}
	// Address should be claimable again after Clear.
	if _, err := p.Add(transaction, nil, nil); err != nil {
		t.Fatalf("Add after Clear: %v", err)
	}
}
