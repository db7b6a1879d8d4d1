package utxo

import (
	"testing"

	"github.com/qubitcoin-project/qcoind/internal/storage"
	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemory())
}

func makeOutpoint(data string, index uint32) types.Outpoint {
	return types.Outpoint{
		TxID:  crypto.Sha256([]byte(data)),
		Index: index,
	}
}

func testAddress(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func makeUTXO(data string, index uint32, amount uint64) *UTXO {
	return &UTXO{
		Outpoint: makeOutpoint(data, index),
		Address:  testAddress(0x01),
		Amount:   amount,
		Height:   1,
	}
}

func TestStore_PutAndGet(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 5000)

	if err := s.Put(u); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := s.Get(u.Outpoint)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if got.Amount != u.Amount {
		t.Errorf("Amount = %d, want %d", got.Amount, u.Amount)
	}
	if got.Outpoint != u.Outpoint {
		t.Error("Outpoint mismatch")
	}
	if got.Height != u.Height {
		t.Errorf("Height = %d, want %d", got.Height, u.Height)
	}
	if got.Address != u.Address {
		t.Error("Address mismatch")
	}
}

func TestStore_GetNonexistent(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(makeOutpoint("missing", 0))
	if err == nil {
		t.Error("Get() for nonexistent UTXO should return error")
	}
}

func TestStore_GetUTXO(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 5000)
	s.Put(u)

	addr, amount, ok := s.GetUTXO(u.Outpoint)
	if !ok {
		t.Fatal("GetUTXO() should find the stored UTXO")
	}
	if addr != u.Address || amount != u.Amount {
		t.Errorf("GetUTXO() = (%s, %d), want (%s, %d)", addr, amount, u.Address, u.Amount)
	}

	_, _, ok = s.GetUTXO(makeOutpoint("missing", 0))
	if ok {
		t.Error("GetUTXO() should not find a missing outpoint")
	}
}

func TestStore_Has(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 1000)

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("Has() should be false before Put()")
	}

	s.Put(u)

	ok, err := s.Has(u.Outpoint)
	if err != nil {
		t.Fatalf("Has() error: %v", err)
	}
	if !ok {
		t.Error("Has() should be true after Put()")
	}
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 1000)

	s.Put(u)

	if err := s.Delete(u.Outpoint); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("UTXO should be gone after Delete()")
	}
}

func TestStore_MultipleOutputs(t *testing.T) {
	s := testStore(t)

	u0 := makeUTXO("tx1", 0, 1000)
	u1 := makeUTXO("tx1", 1, 2000)
	u2 := makeUTXO("tx1", 2, 3000)

	s.Put(u0)
	s.Put(u1)
	s.Put(u2)

	got0, _ := s.Get(u0.Outpoint)
	got1, _ := s.Get(u1.Outpoint)
	got2, _ := s.Get(u2.Outpoint)

	if got0.Amount != 1000 || got1.Amount != 2000 || got2.Amount != 3000 {
		t.Error("amounts mismatch for multi-output tx")
	}

	s.Delete(u1.Outpoint)

	ok, _ := s.Has(u1.Outpoint)
	if ok {
		t.Error("deleted output should be gone")
	}

	ok0, _ := s.Has(u0.Outpoint)
	ok2, _ := s.Has(u2.Outpoint)
	if !ok0 || !ok2 {
		t.Error("non-deleted outputs should remain")
	}
}

func TestStore_ImplementsSet(t *testing.T) {
	// Compile-time check that Store satisfies Set.
	var _ Set = (*Store)(nil)
}

func TestStore_GetByAddress(t *testing.T) {
	s := testStore(t)

	addr1 := testAddress(0xAA)
	addr2 := testAddress(0xBB)

	u1 := &UTXO{Outpoint: makeOutpoint("a", 0), Address: addr1, Amount: 1000, Height: 1}
	u2 := &UTXO{Outpoint: makeOutpoint("b", 0), Address: addr1, Amount: 2000, Height: 2}
	u3 := &UTXO{Outpoint: makeOutpoint("c", 0), Address: addr2, Amount: 3000, Height: 3}

	s.Put(u1)
	s.Put(u2)
	s.Put(u3)

	got1, err := s.GetByAddress(addr1)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got1) != 2 {
		t.Fatalf("GetByAddress(addr1) = %d utxos, want 2", len(got1))
	}

	got2, err := s.GetByAddress(addr2)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got2) != 1 {
		t.Fatalf("GetByAddress(addr2) = %d utxos, want 1", len(got2))
	}
}

func TestStore_GetByAddress_RemovedAfterDelete(t *testing.T) {
	s := testStore(t)
	addr := testAddress(0xCC)
	u := &UTXO{Outpoint: makeOutpoint("x", 0), Address: addr, Amount: 1000, Height: 1}
	s.Put(u)
	s.Delete(u.Outpoint)

	got, err := s.GetByAddress(addr)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("GetByAddress() after delete = %d, want 0", len(got))
	}
}

func TestStore_ForEach(t *testing.T) {
	s := testStore(t)
	s.Put(makeUTXO("a", 0, 1000))
	s.Put(makeUTXO("b", 0, 2000))
	s.Put(makeUTXO("c", 0, 3000))

	var total uint64
	count := 0
	err := s.ForEach(func(u *UTXO) error {
		total += u.Amount
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach() error: %v", err)
	}
	if count != 3 {
		t.Errorf("ForEach() visited %d utxos, want 3", count)
	}
	if total != 6000 {
		t.Errorf("ForEach() total = %d, want 6000", total)
	}
}

func TestStore_ClearAll(t *testing.T) {
	s := testStore(t)
	s.Put(makeUTXO("a", 0, 1000))
	s.Put(makeUTXO("b", 0, 2000))

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error: %v", err)
	}

	count := 0
	s.ForEach(func(u *UTXO) error {
		count++
		return nil
	})
	if count != 0 {
		t.Errorf("ForEach() after ClearAll = %d, want 0", count)
	}

	got, _ := s.GetByAddress(testAddress(0x01))
	if len(got) != 0 {
		t.Errorf("address index not cleared by ClearAll")
	}
}
