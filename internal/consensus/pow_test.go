package consensus

import (
	"math/big"
	"testing"

	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// easiestTarget accepts essentially any hash.
var easiestTarget = MaxTarget

// hardestTarget accepts only a hash whose value is zero or one.
var hardestTarget = [32]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}

func testHeader(target [32]byte) *block.Header {
	return &block.Header{
		Version:    1,
		PrevHash:   types.Hash{},
		MerkleRoot: types.Hash{1, 2, 3},
		Timestamp:  1000,
		Target:     target,
	}
}

func TestPoW_TargetToBig_RoundTrip(t *testing.T) {
	big1 := targetToBig(easiestTarget)
	back := bigToTarget(big1)
	if back != easiestTarget {
		t.Fatalf("round trip of easiestTarget changed value: got %x", back)
	}
}

func TestPoW_BigToTarget_SaturatesAtMax(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 300) // Far beyond 256 bits.
	got := bigToTarget(huge)
	if got != MaxTarget {
		t.Fatalf("bigToTarget(huge) = %x, want MaxTarget", got)
	}
}

func TestPoW_SealAndVerify(t *testing.T) {
	pow := NewPoW(easiestTarget)
	header := testHeader(easiestTarget)
	blk := block.NewBlock(header, nil, 1)

	if err := pow.Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := pow.VerifyHeader(blk.Header); err != nil {
		t.Fatalf("VerifyHeader after Seal: %v", err)
	}
}

func TestPoW_VerifyHeader_Rejects(t *testing.T) {
	pow := NewPoW(hardestTarget)
	header := testHeader(hardestTarget)
	header.Nonce = 42

	err := pow.VerifyHeader(header)
	if err != ErrInsufficientWork {
		t.Fatalf("VerifyHeader with hardest target = %v, want ErrInsufficientWork", err)
	}
}

func TestPoW_VerifyHeader_ZeroTarget(t *testing.T) {
	pow := NewPoW(easiestTarget)
	header := testHeader([32]byte{})

	err := pow.VerifyHeader(header)
	if err != ErrZeroTarget {
		t.Fatalf("VerifyHeader(target=0) = %v, want ErrZeroTarget", err)
	}
}

func TestPoW_SealModerateTarget(t *testing.T) {
	// A target with one leading zero byte: roughly 1/256 of hashes qualify,
	// so sealing should complete quickly but not trivially.
	moderate := MaxTarget
	moderate[0] = 0x00

	pow := NewPoW(moderate)
	header := testHeader(moderate)
	blk := block.NewBlock(header, nil, 5)

	if err := pow.Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := pow.VerifyHeader(blk.Header); err != nil {
		t.Fatalf("VerifyHeader: %v", err)
	}

	hash := blk.Header.Hash()
	hashInt := new(big.Int).SetBytes(hash[:])
	if hashInt.Cmp(targetToBig(moderate)) > 0 {
		t.Fatalf("hash %s > target %s", hashInt, targetToBig(moderate))
	}
	if blk.Hash != blk.Header.Hash() {
		t.Fatal("Seal did not refresh the block's cached Hash")
	}
}

func TestPoW_Prepare(t *testing.T) {
	pow := NewPoW(easiestTarget)
	header := testHeader([32]byte{})
	pow.Prepare(header, easiestTarget)
	if header.Target != easiestTarget {
		t.Fatalf("Prepare did not set target")
	}
}

// ── Target adjustment tests ──────────────────────────────────────

func TestCalcNextTarget_ExactTiming(t *testing.T) {
	base := [32]byte{}
	base[2] = 0x0f
	got := CalcNextTarget(base, 30_000, 30_000)
	if got != base {
		t.Fatalf("CalcNextTarget(exact) changed target: got %x, want %x", got, base)
	}
}

func TestCalcNextTarget_TooFast(t *testing.T) {
	// Blocks 2x faster than expected -> target tightens (halves).
	base := [32]byte{}
	base[0] = 0x01 // value = 1 << 248
	got := CalcNextTarget(base, 150, 300)
	want := bigToTarget(new(big.Int).Div(targetToBig(base), big.NewInt(2)))
	if got != want {
		t.Fatalf("CalcNextTarget(2x fast) = %x, want %x", got, want)
	}
}

func TestCalcNextTarget_TooSlow(t *testing.T) {
	// Blocks 2x slower than expected -> target loosens (doubles).
	base := [32]byte{}
	base[0] = 0x01
	got := CalcNextTarget(base, 600, 300)
	want := bigToTarget(new(big.Int).Mul(targetToBig(base), big.NewInt(2)))
	if got != want {
		t.Fatalf("CalcNextTarget(2x slow) = %x, want %x", got, want)
	}
}

func TestCalcNextTarget_ClampUp(t *testing.T) {
	// Blocks 10x faster than expected -> clamped to a 4x tightening.
	base := [32]byte{}
	base[0] = 0x01
	got := CalcNextTarget(base, 30, 300)
	want := bigToTarget(new(big.Int).Div(targetToBig(base), big.NewInt(4)))
	if got != want {
		t.Fatalf("CalcNextTarget(clamp up) = %x, want %x", got, want)
	}
}

func TestCalcNextTarget_ClampDown(t *testing.T) {
	// Blocks 10x slower than expected -> clamped to a 4x loosening.
	base := [32]byte{}
	base[0] = 0x01
	got := CalcNextTarget(base, 3000, 300)
	want := bigToTarget(new(big.Int).Mul(targetToBig(base), big.NewInt(4)))
	if got != want {
		t.Fatalf("CalcNextTarget(clamp down) = %x, want %x", got, want)
	}
}

func TestCalcNextTarget_SaturatesAtMax(t *testing.T) {
	// Starting near MaxTarget and loosening further must saturate, not wrap.
	got := CalcNextTarget(MaxTarget, 1_200_000, 300_000)
	if got != MaxTarget {
		t.Fatalf("CalcNextTarget near ceiling = %x, want MaxTarget", got)
	}
}

func TestPoW_ShouldAdjust(t *testing.T) {
	pow := NewPoW(easiestTarget)

	tests := []struct {
		height uint64
		want   bool
	}{
		{0, false},
		{1, false},
		{9, false},
		{10, true},
		{11, false},
		{20, true},
		{30, true},
		{100, true},
	}

	for _, tt := range tests {
		if got := pow.ShouldAdjust(tt.height); got != tt.want {
			t.Errorf("ShouldAdjust(%d) = %v, want %v", tt.height, got, tt.want)
		}
	}
}

func TestPoW_ExpectedTarget(t *testing.T) {
	pow := NewPoW(InitialTarget)

	if got := pow.ExpectedTarget(0, [32]byte{}, nil); got != InitialTarget {
		t.Fatalf("ExpectedTarget(0) = %x, want InitialTarget", got)
	}

	prev := [32]byte{}
	prev[0] = 0x01
	if got := pow.ExpectedTarget(5, prev, nil); got != prev {
		t.Fatalf("ExpectedTarget(non-boundary) = %x, want unchanged %x", got, prev)
	}

	// At the boundary (height=10): blocks arrived exactly on schedule.
	getTS := func(h uint64) (int64, error) {
		if h == 0 {
			return 0, nil
		}
		return int64(AdjustmentInterval) * int64(TargetBlockTimeMs), nil
	}
	if got := pow.ExpectedTarget(AdjustmentInterval, prev, getTS); got != prev {
		t.Fatalf("ExpectedTarget(boundary, exact timing) = %x, want unchanged %x", got, prev)
	}
}

func TestPoW_VerifyTarget(t *testing.T) {
	pow := NewPoW(InitialTarget)

	header := &block.Header{Target: InitialTarget}
	if err := pow.VerifyTarget(header, 0, [32]byte{}, nil); err != nil {
		t.Fatalf("VerifyTarget(height=0) = %v, want nil", err)
	}

	wrong := &block.Header{Target: [32]byte{0xff}}
	if err := pow.VerifyTarget(wrong, 0, [32]byte{}, nil); err == nil {
		t.Fatal("VerifyTarget with wrong target at height 0 = nil, want error")
	}
}
