package chain

import (
	"testing"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/internal/consensus"
	"github.com/qubitcoin-project/qcoind/internal/storage"
	"github.com/qubitcoin-project/qcoind/internal/utxo"
	"github.com/qubitcoin-project/qcoind/pkg/types"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
)

func TestRebuildUTXOs_Idempotent(t *testing.T) {
	c := newTestChain(t)
	pow := testPow()
	keyA, addrA := newTestKey(t)
	_, addrB := newTestKey(t)

	if err := c.InitFromGenesis(testGenesisConfig(map[string]uint64{addrA.String(): 100 * config.Coin})); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}
	genesisBlk, _ := c.GetBlockByHeight(0)
	genCoinbase := genesisBlk.Transactions[0]

	spend := tx.NewBuilder(testGenesisTimestamp + 30_000).
		AddInput(types.Outpoint{TxID: genCoinbase.ID, Index: 0}).
		AddOutput(addrB, 30*config.Coin).
		AddOutput(addrA, 69*config.Coin).
		Finalize()
	if err := spend.Sign(keyA); err != nil {
		t.Fatalf("sign: %v", err)
	}
	signedTx := spend.Build()

	blk1 := buildBlock(t, c, pow, genesisBlk, addrA, config.Coin, []*tx.Transaction{signedTx}, testGenesisTimestamp+30_000)
	if err := c.AddBlock(blk1); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	balBBefore, _ := c.GetBalance(addrB)
	balABefore, _ := c.GetBalance(addrA)

	if err := c.RebuildUTXOs(); err != nil {
		t.Fatalf("RebuildUTXOs: %v", err)
	}

	balBAfter, err := c.GetBalance(addrB)
	if err != nil {
		t.Fatalf("GetBalance(B): %v", err)
	}
	balAAfter, err := c.GetBalance(addrA)
	if err != nil {
		t.Fatalf("GetBalance(A): %v", err)
	}
	if balBAfter != balBBefore {
		t.Fatalf("balance B changed across rebuild: before=%d after=%d", balBBefore, balBAfter)
	}
	if balAAfter != balABefore {
		t.Fatalf("balance A changed across rebuild: before=%d after=%d", balABefore, balAAfter)
	}
}

func TestNew_RecoversFromReorgCheckpoint(t *testing.T) {
	db := storage.NewMemory()
	utxoStore := utxo.NewStore(db)
	claimStore := utxo.NewClaimStore(db)
	pow := consensus.NewPoW(consensus.InitialTarget)

	c, err := New(db, utxoStore, claimStore, pow)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, addr := newTestKey(t)
	if err := c.InitFromGenesis(testGenesisConfig(nil)); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}
	genesisBlk, _ := c.GetBlockByHeight(0)
	blk1 := buildBlock(t, c, pow, genesisBlk, addr, 0, nil, testGenesisTimestamp+30_000)
	if err := c.AddBlock(blk1); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	// Simulate a crash mid-reorg: leave a checkpoint marker on disk.
	if err := c.blocks.PutReorgCheckpoint(0); err != nil {
		t.Fatalf("PutReorgCheckpoint: %v", err)
	}

	recovered, err := New(db, utxoStore, claimStore, pow)
	if err != nil {
		t.Fatalf("New (recovery): %v", err)
	}
	if _, found := recovered.blocks.GetReorgCheckpoint(); found {
		t.Fatal("expected reorg checkpoint to be cleared by recovery rebuild")
	}
	if recovered.Height() != 1 {
		t.Fatalf("recovered height = %d, want 1", recovered.Height())
	}
	bal, err := recovered.GetBalance(addr)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != config.Subsidy(1) {
		t.Fatalf("recovered balance = %d, want %d", bal, config.Subsidy(1))
	}
}

func TestReorg_RebuildsFromScratchWhenUndoMissing(t *testing.T) {
	c := newTestChain(t)
	pow := testPow()
	_, addrMain := newTestKey(t)
	_, addrSide := newTestKey(t)

	if err := c.InitFromGenesis(testGenesisConfig(nil)); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}
	genesisBlk, _ := c.GetBlockByHeight(0)

	mainBlk1 := buildBlock(t, c, pow, genesisBlk, addrMain, 0, nil, testGenesisTimestamp+30_000)
	if err := c.AddBlock(mainBlk1); err != nil {
		t.Fatalf("AddBlock(mainBlk1): %v", err)
	}
	mainBlk2 := buildBlock(t, c, pow, mainBlk1, addrMain, 0, nil, testGenesisTimestamp+60_000)
	if err := c.AddBlock(mainBlk2); err != nil {
		t.Fatalf("AddBlock(mainBlk2): %v", err)
	}

	// Destroy the undo record for the older mainline block, forcing Reorg
	// onto its rebuild-from-scratch fallback.
	if err := c.blocks.DeleteUndo(mainBlk1.Hash); err != nil {
		t.Fatalf("DeleteUndo: %v", err)
	}

	sideBlk1 := buildBlock(t, c, pow, genesisBlk, addrSide, 0, nil, testGenesisTimestamp+45_000)
	if err := c.AddBlock(sideBlk1); err != nil {
		t.Fatalf("AddBlock(sideBlk1): %v", err)
	}
	sideBlk2 := buildBlock(t, c, pow, sideBlk1, addrSide, 0, nil, testGenesisTimestamp+90_000)
	if err := c.AddBlock(sideBlk2); err != nil {
		t.Fatalf("AddBlock(sideBlk2): %v", err)
	}
	sideBlk3 := buildBlock(t, c, pow, sideBlk2, addrSide, 0, nil, testGenesisTimestamp+120_000)
	if err := c.AddBlock(sideBlk3); err != nil {
		t.Fatalf("AddBlock(sideBlk3): %v", err)
	}

	if c.Height() != 3 {
		t.Fatalf("height = %d, want 3", c.Height())
	}
	if c.TipHash() != sideBlk3.Hash {
		t.Fatalf("tip did not switch to the rebuilt side branch")
	}

	balMain, err := c.GetBalance(addrMain)
	if err != nil {
		t.Fatalf("GetBalance(main): %v", err)
	}
	if balMain != 0 {
		t.Fatalf("mainline balance after rebuild = %d, want 0", balMain)
	}

	wantSide := config.Subsidy(1) + config.Subsidy(2) + config.Subsidy(3)
	balSide, err := c.GetBalance(addrSide)
	if err != nil {
		t.Fatalf("GetBalance(side): %v", err)
	}
	if balSide != wantSide {
		t.Fatalf("side balance = %d, want %d", balSide, wantSide)
	}

	if _, found := c.blocks.GetReorgCheckpoint(); found {
		t.Fatal("expected reorg checkpoint to be cleared after rebuild")
	}
}
