package consensus

import (
	"fmt"

	"github.com/qubitcoin-project/qcoind/pkg/block"
)

// Validator validates blocks against consensus rules.
type Validator struct {
	engine Engine
}

// NewValidator creates a block validator with the given consensus engine.
func NewValidator(engine Engine) *Validator {
	return &Validator{engine: engine}
}

// ValidateBlock checks a block against both structural and consensus rules.
// Target-vs-chain-history and previous-block linkage are checked separately
// by internal/chain, which holds the history this package does not.
func (v *Validator) ValidateBlock(blk *block.Block) error {
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("block structure: %w", err)
	}
	if err := v.engine.VerifyHeader(blk.Header); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	return nil
}
