// Package mempool holds unconfirmed transactions awaiting block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/qubitcoin-project/qcoind/internal/utxo"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists       = errors.New("transaction already in mempool")
	ErrConflict            = errors.New("transaction conflicts with existing mempool entry")
	ErrValidation          = errors.New("transaction failed validation")
	ErrFeeTooLow           = errors.New("transaction fee below minimum rate")
	ErrClaimAlreadyOnChain = errors.New("btc address already claimed on-chain")
	ErrClaimPending        = errors.New("btc address already has a pending claim")
	ErrClaimPoolFull       = errors.New("pending claim count at capacity")
)

// MaxClaimCount caps the number of claim transactions admitted at once, so a
// flood of claim attempts can't crowd out regular traffic.
const MaxClaimCount = 1000

// MinFeeRate is the default minimum fee rate, in base units per kilobyte of
// Transaction.Size, required for a regular transaction's admission.
const MinFeeRate = 1000

// entry wraps an admitted transaction with the bookkeeping needed for
// deterministic ordering and eviction.
type entry struct {
	tx      *tx.Transaction
	hash    types.Hash
	fee     uint64
	feeRate uint64 // base units per KB, see tx.FeeRate.
	claim   bool
	seq     uint64 // monotonic insertion order, used as the ordering tiebreak.
}

// Pool holds unconfirmed transactions: regular transactions locking the
// UTXOs they spend, and claim transactions locking the Bitcoin address they
// redeem. A transaction is admitted under exactly one of those two regimes.
type Pool struct {
	mu sync.RWMutex

	byID    map[types.Hash]*entry
	locked  map[types.Outpoint]types.Hash // regular-tx input locks
	pending map[string]types.Hash         // pending claim btcAddress -> tx hash

	totalBytes  int
	minFeeRate  uint64
	nextSeq     uint64
	maxClaims   int
	snapshot    utxo.Snapshot // optional: claim proof verification, nil disables it
}

// New creates an empty pool. minFeeRate is in base units per kilobyte; pass
// 0 to disable the floor (not recommended outside tests).
func New(minFeeRate uint64) *Pool {
	return &Pool{
		byID:       make(map[types.Hash]*entry),
		locked:     make(map[types.Outpoint]types.Hash),
		pending:    make(map[string]types.Hash),
		minFeeRate: minFeeRate,
		maxClaims:  MaxClaimCount,
	}
}

// SetSnapshot installs the Bitcoin claim snapshot used to verify claim
// proofs at admission time. Without one, claim transactions are admitted
// on structural validity alone and re-checked against the snapshot when a
// block actually includes them.
func (p *Pool) SetSnapshot(s utxo.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = s
}

// Add validates and admits a transaction. alreadyClaimed, if non-nil, is
// consulted to reject claims for Bitcoin addresses already redeemed
// on-chain; utxoSet resolves inputs for regular transactions.
func (p *Pool) Add(transaction *tx.Transaction, utxoSet tx.UTXOProvider, alreadyClaimed func(btcAddress string) bool) (uint64, error) {
	if err := transaction.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !transaction.VerifyID() {
		return 0, fmt.Errorf("%w: id does not match contents", ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byID[transaction.ID]; exists {
		return 0, ErrAlreadyExists
	}

	if transaction.IsClaim() {
		return p.addClaimLocked(transaction, alreadyClaimed)
	}
	return p.addRegularLocked(transaction, utxoSet)
}

func (p *Pool) addClaimLocked(t *tx.Transaction, alreadyClaimed func(btcAddress string) bool) (uint64, error) {
	btcAddr := t.ClaimData.BtcAddress

	if alreadyClaimed != nil && alreadyClaimed(btcAddr) {
		return 0, fmt.Errorf("%w: %s", ErrClaimAlreadyOnChain, btcAddr)
	}
	if _, pending := p.pending[btcAddr]; pending {
		return 0, fmt.Errorf("%w: %s", ErrClaimPending, btcAddr)
	}
	if len(p.pending) >= p.maxClaims {
		return 0, ErrClaimPoolFull
	}

	if p.snapshot != nil {
		snapEntry, ok := p.snapshot.Lookup(btcAddr)
		if !ok {
			return 0, fmt.Errorf("%w: btc address %s not in snapshot", ErrValidation, btcAddr)
		}
		if err := utxo.VerifyClaimProof(t, snapEntry, p.snapshot.BlockHash()); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	e := &entry{tx: t, hash: t.ID, claim: true, seq: p.nextSeq}
	p.nextSeq++
	p.byID[t.ID] = e
	p.pending[btcAddr] = t.ID
	p.totalBytes += t.Size()

	return 0, nil
}

func (p *Pool) addRegularLocked(t *tx.Transaction, utxoSet tx.UTXOProvider) (uint64, error) {
	for i, in := range t.Inputs {
		op := types.Outpoint{TxID: in.TxID, Index: in.OutputIndex}
		if conflict, exists := p.locked[op]; exists {
			return 0, fmt.Errorf("%w: input %d (%s) already locked by %s", ErrConflict, i, op, conflict)
		}
	}

	fee, err := t.ValidateWithUTXOs(utxoSet)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	feeRate := tx.FeeRate(fee, t.Size())
	if p.minFeeRate > 0 && feeRate < p.minFeeRate {
		return 0, fmt.Errorf("%w: %d < %d", ErrFeeTooLow, feeRate, p.minFeeRate)
	}

	e := &entry{tx: t, hash: t.ID, fee: fee, feeRate: feeRate, seq: p.nextSeq}
	p.nextSeq++
	p.byID[t.ID] = e
	for _, in := range t.Inputs {
		p.locked[types.Outpoint{TxID: in.TxID, Index: in.OutputIndex}] = t.ID
	}
	p.totalBytes += t.Size()

	return fee, nil
}

// Remove evicts the named transactions, releasing whatever locks they hold.
func (p *Pool) Remove(ids []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.removeLocked(id)
	}
}

func (p *Pool) removeLocked(id types.Hash) {
	e, exists := p.byID[id]
	if !exists {
		return
	}
	if e.claim {
		delete(p.pending, e.tx.ClaimData.BtcAddress)
	} else {
		for _, in := range e.tx.Inputs {
			delete(p.locked, types.Outpoint{TxID: in.TxID, Index: in.OutputIndex})
		}
	}
	p.totalBytes -= e.tx.Size()
	delete(p.byID, id)
}

// Revalidate scans every pending transaction against the current chain
// state and evicts anything no longer admissible: a regular transaction
// whose inputs no longer resolve in utxoSet, or a claim whose btcAddress is
// now claimed on-chain. The lock indexes are rebuilt from the surviving set
// afterward so they exactly mirror membership, restoring invariant (a)/(b)
// even if eviction order left them momentarily inconsistent.
func (p *Pool) Revalidate(utxoSet tx.UTXOProvider, isClaimed func(btcAddress string) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, e := range p.byID {
		if e.claim {
			if isClaimed != nil && isClaimed(e.tx.ClaimData.BtcAddress) {
				delete(p.byID, id)
			}
			continue
		}
		for _, in := range e.tx.Inputs {
			op := types.Outpoint{TxID: in.TxID, Index: in.OutputIndex}
			if _, _, ok := utxoSet.GetUTXO(op); !ok {
				delete(p.byID, id)
				break
			}
		}
	}

	p.locked = make(map[types.Outpoint]types.Hash)
	p.pending = make(map[string]types.Hash)
	p.totalBytes = 0
	for id, e := range p.byID {
		p.totalBytes += e.tx.Size()
		if e.claim {
			p.pending[e.tx.ClaimData.BtcAddress] = id
			continue
		}
		for _, in := range e.tx.Inputs {
			p.locked[types.Outpoint{TxID: in.TxID, Index: in.OutputIndex}] = id
		}
	}
}

// Has reports whether a transaction is in the pool.
func (p *Pool) Has(id types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.byID[id]
	return exists
}

// FeeOf returns the fee captured for a pooled regular transaction at
// admission time. Claims and unknown ids return 0: a claim transaction
// pays out the snapshot amount exactly and carries no fee of its own.
func (p *Pool) FeeOf(id types.Hash) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, exists := p.byID[id]; exists && !e.claim {
		return e.fee
	}
	return 0
}

// Get retrieves a pooled transaction by id, or nil if absent.
func (p *Pool) Get(id types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, exists := p.byID[id]; exists {
		return e.tx
	}
	return nil
}

// Size returns the number of pooled transactions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// SizeBytes returns the total wire size of every pooled transaction.
func (p *Pool) SizeBytes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalBytes
}

// MinFeeRate returns the pool's configured minimum fee rate.
func (p *Pool) MinFeeRate() uint64 {
	return p.minFeeRate
}

// Clear empties the pool.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[types.Hash]*entry)
	p.locked = make(map[types.Outpoint]types.Hash)
	p.pending = make(map[string]types.Hash)
	p.totalBytes = 0
}

// GetTransactionsForBlock returns every pooled transaction in the order a
// miner should consider them: all claims first (insertion order), then
// regular transactions by descending fee rate, ties broken by ascending
// insertion order. No dependency ordering is needed beyond this — a
// transaction can only ever reference already-confirmed outputs, since
// spending a pending transaction's output is rejected at admission.
func (p *Pool) GetTransactionsForBlock() []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var claims, regular []*entry
	for _, e := range p.byID {
		if e.claim {
			claims = append(claims, e)
		} else {
			regular = append(regular, e)
		}
	}

	sort.Slice(claims, func(i, j int) bool { return claims[i].seq < claims[j].seq })
	sort.Slice(regular, func(i, j int) bool {
		if regular[i].feeRate != regular[j].feeRate {
			return regular[i].feeRate > regular[j].feeRate
		}
		return regular[i].seq < regular[j].seq
	})

	result := make([]*tx.Transaction, 0, len(claims)+len(regular))
	for _, e := range claims {
		result = append(result, e.tx)
	}
	for _, e := range regular {
		result = append(result, e.tx)
	}
	return result
}
