package consensus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/crypto"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet target")
	ErrZeroTarget       = errors.New("target must be > 0")
	ErrBadTarget        = errors.New("block target does not match expected")
)

// AdjustmentInterval is the number of blocks between difficulty retargets.
const AdjustmentInterval = 10

// TargetBlockTimeMs is the desired average time between blocks, in
// milliseconds.
const TargetBlockTimeMs = 30_000

// MaxTarget is the easiest possible target: the proof-of-work ceiling.
var MaxTarget = [32]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// InitialTarget is the genesis target: five leading hex-zero nibbles
// (00000f...), a moderate starting difficulty that retargets quickly once
// real hashrate joins the network.
var InitialTarget = [32]byte{
	0x00, 0x00, 0x0f, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// targetToBig interprets a 32-byte target as a big-endian unsigned integer.
func targetToBig(t [32]byte) *big.Int {
	return new(big.Int).SetBytes(t[:])
}

// bigToTarget renders a big.Int back into a 32-byte big-endian target,
// saturating at MaxTarget if the value doesn't fit.
func bigToTarget(v *big.Int) [32]byte {
	if v.Sign() <= 0 {
		return [32]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	}
	if v.Cmp(targetToBig(MaxTarget)) > 0 {
		return MaxTarget
	}
	b := v.Bytes()
	var out [32]byte
	copy(out[32-len(b):], b)
	return out
}

// PoW implements the block's proof-of-work consensus: a 32-byte target,
// retargeted every AdjustmentInterval blocks toward TargetBlockTimeMs.
type PoW struct {
	InitialTarget [32]byte

	// Threads controls the number of parallel mining goroutines used by
	// Seal/SealWithCancel. 0 or 1 means single-threaded.
	Threads int
}

// NewPoW creates a PoW engine seeded with the given genesis target.
func NewPoW(initialTarget [32]byte) *PoW {
	return &PoW{InitialTarget: initialTarget}
}

// ShouldAdjust reports whether the target should be recalculated at height.
func (p *PoW) ShouldAdjust(height uint64) bool {
	return height > 0 && height%AdjustmentInterval == 0
}

// VerifyHeader checks that the block header hash meets the header's own
// stated target. It does not check that the target itself is the expected
// one for the chain at that height; use VerifyTarget for that.
func (p *PoW) VerifyHeader(header *block.Header) error {
	if targetToBig(header.Target).Sign() <= 0 {
		return ErrZeroTarget
	}
	hash := header.Hash()
	hashInt := new(big.Int).SetBytes(hash[:])
	if hashInt.Cmp(targetToBig(header.Target)) > 0 {
		return ErrInsufficientWork
	}
	return nil
}

// Prepare sets the block header's target for mining, given the expected
// target computed by the caller from chain history (see ExpectedTarget).
func (p *PoW) Prepare(header *block.Header, expectedTarget [32]byte) {
	header.Target = expectedTarget
}

// Seal mines the block by iterating the nonce until the header hash meets
// the target already set in the header.
func (p *PoW) Seal(blk *block.Block) error {
	return p.SealWithCancel(context.Background(), blk)
}

// SealWithCancel mines the block with cancellation support. When the
// context is cancelled, mining stops and ctx.Err() is returned. If Threads
// > 1, mining runs in parallel goroutines with strided nonce partitioning.
func (p *PoW) SealWithCancel(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	if targetToBig(blk.Header.Target).Sign() <= 0 {
		return ErrZeroTarget
	}

	threads := p.Threads
	var err error
	if threads <= 1 {
		err = p.sealSingle(ctx, blk)
	} else {
		err = p.sealParallel(ctx, blk, threads)
	}
	if err == nil {
		blk.RecomputeHash()
	}
	return err
}

// headerPrefix returns the header's serialized bytes without the trailing
// 4-byte nonce, so each mining iteration only needs to append+hash 4 bytes.
func headerPrefix(h *block.Header) []byte {
	full := h.Serialize()
	return full[:len(full)-4]
}

func (p *PoW) sealSingle(ctx context.Context, blk *block.Block) error {
	t := targetToBig(blk.Header.Target)
	prefix := headerPrefix(blk.Header)
	buf := make([]byte, len(prefix)+4)
	copy(buf, prefix)
	hashInt := new(big.Int)

	for nonce := uint32(0); ; nonce++ {
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		binary.LittleEndian.PutUint32(buf[len(prefix):], nonce)
		sum := crypto.Sha256d(buf)
		hashInt.SetBytes(sum[:])
		if hashInt.Cmp(t) <= 0 {
			blk.Header.Nonce = nonce
			return nil
		}
		if nonce == ^uint32(0) {
			return fmt.Errorf("nonce space exhausted")
		}
	}
}

func (p *PoW) sealParallel(ctx context.Context, blk *block.Block, threads int) error {
	t := targetToBig(blk.Header.Target)
	prefix := headerPrefix(blk.Header)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint32
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint32(i)
		stride := uint32(threads)
		go func() {
			defer wg.Done()
			buf := make([]byte, len(prefix)+4)
			copy(buf, prefix)
			hashInt := new(big.Int)

			for nonce := startNonce; ; nonce += stride {
				if (nonce/stride)&0xFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				binary.LittleEndian.PutUint32(buf[len(prefix):], nonce)
				sum := crypto.Sha256d(buf)
				hashInt.SetBytes(sum[:])
				if hashInt.Cmp(t) <= 0 {
					select {
					case found <- result{nonce: nonce}:
					default:
					}
					cancel()
					return
				}

				if nonce > ^uint32(0)-stride {
					select {
					case found <- result{err: fmt.Errorf("nonce space exhausted")}:
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok {
			return fmt.Errorf("nonce space exhausted")
		}
		if r.err != nil {
			return r.err
		}
		blk.Header.Nonce = r.nonce
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExpectedTarget computes the target for the block at height, given the
// target currently in force and a lookup of block timestamps by height.
// prevTarget is the target carried by the block at height-1.
func (p *PoW) ExpectedTarget(height uint64, prevTarget [32]byte, getTimestamp func(uint64) (int64, error)) [32]byte {
	if height == 0 {
		return p.InitialTarget
	}
	if !p.ShouldAdjust(height) {
		return prevTarget
	}

	endTS, err := getTimestamp(height - 1)
	if err != nil {
		return prevTarget
	}
	startTS, err := getTimestamp(height - AdjustmentInterval)
	if err != nil {
		return prevTarget
	}

	actual := endTS - startTS
	expected := int64(AdjustmentInterval) * int64(TargetBlockTimeMs)
	return CalcNextTarget(prevTarget, actual, expected)
}

// VerifyTarget checks that a block header's stated target matches the
// expected target computed from chain history.
func (p *PoW) VerifyTarget(header *block.Header, height uint64, prevTarget [32]byte, getTimestamp func(uint64) (int64, error)) error {
	expected := p.ExpectedTarget(height, prevTarget, getTimestamp)
	if header.Target != expected {
		return fmt.Errorf("%w: height %d", ErrBadTarget, height)
	}
	return nil
}

// CalcNextTarget computes the new target after a retarget period:
// newTarget = oldTarget * actual/expected, clamping actual to
// [expected/4, expected*4] and saturating the result at MaxTarget.
func CalcNextTarget(currentTarget [32]byte, actualTimeSpan, expectedTimeSpan int64) [32]byte {
	if expectedTimeSpan <= 0 {
		expectedTimeSpan = 1
	}
	if actualTimeSpan <= 0 {
		actualTimeSpan = 1
	}

	minSpan := expectedTimeSpan / 4
	maxSpan := expectedTimeSpan * 4
	if minSpan < 1 {
		minSpan = 1
	}
	if actualTimeSpan < minSpan {
		actualTimeSpan = minSpan
	}
	if actualTimeSpan > maxSpan {
		actualTimeSpan = maxSpan
	}

	cur := targetToBig(currentTarget)
	act := big.NewInt(actualTimeSpan)
	exp := big.NewInt(expectedTimeSpan)

	result := new(big.Int).Mul(cur, act)
	result.Div(result, exp)

	return bigToTarget(result)
}
