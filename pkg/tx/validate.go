package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs       = errors.New("transaction has no inputs")
	ErrNoOutputs      = errors.New("transaction has no outputs")
	ErrDuplicateInput = errors.New("duplicate input")
	ErrOutputOverflow = errors.New("output values overflow")
	ErrZeroOutput     = errors.New("output amount is zero")
	ErrMissingPubKey  = errors.New("input missing public key")
	ErrMissingSig     = errors.New("input missing signature")
	ErrInvalidSig     = errors.New("invalid signature")
	ErrTooManyInputs  = errors.New("too many inputs")
	ErrTooManyOutputs = errors.New("too many outputs")
	ErrBadID          = errors.New("transaction id does not match its contents")
)

// VerifyID reports whether tx.ID matches the id computed from its current
// inputs, outputs, and timestamp. Callers that ingest transactions from an
// untrusted source (mempool admission, block validation) should check this
// before relying on ID-keyed lookups; Validate itself does not, so that
// transactions can be constructed and validated before their ID is stamped.
func (tx *Transaction) VerifyID() bool {
	return tx.ComputeID() == tx.ID
}

// Validate checks transaction structure and basic rules. This does NOT
// check UTXO existence or claim-proof validity; those require external
// state and live in ValidateWithUTXOs and the claim verifier respectively.
func (tx *Transaction) Validate() error {
	if len(tx.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(tx.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), config.MaxTxInputs)
	}
	if len(tx.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), config.MaxTxOutputs)
	}

	// Duplicate-input detection: meaningless for coinbase/claim (only one
	// sentinel input is ever present) but cheap to run unconditionally.
	seen := make(map[types.Outpoint]bool, len(tx.Inputs))
	for i, in := range tx.Inputs {
		op := types.Outpoint{TxID: in.TxID, Index: in.OutputIndex}
		if seen[op] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[op] = true
	}

	coinbase := tx.IsCoinbase()
	claim := tx.IsClaim()
	for i, in := range tx.Inputs {
		if coinbase || claim {
			continue
		}
		if len(in.PublicKey) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
		}
		if len(in.Signature) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingSig)
		}
	}

	var totalOutput uint64
	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if totalOutput > math.MaxUint64-out.Amount {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Amount
	}

	if claim {
		if err := tx.validateClaimShape(); err != nil {
			return err
		}
	}

	return nil
}

func (tx *Transaction) validateClaimShape() error {
	c := tx.ClaimData
	if c == nil {
		return fmt.Errorf("claim transaction missing claim data")
	}
	if c.BtcAddress == "" {
		return fmt.Errorf("claim data missing btcAddress")
	}
	hasECDSA := len(c.EcdsaPublicKey) > 0
	hasSchnorr := len(c.SchnorrPublicKey) > 0
	hasScript := len(c.WitnessScript) > 0
	if !hasECDSA && !hasSchnorr && !hasScript {
		return fmt.Errorf("claim data missing ecdsaPublicKey, schnorrPublicKey and witnessScript")
	}
	if len(c.Signature) == 0 && len(c.Signatures) == 0 {
		return fmt.Errorf("claim data missing signature")
	}
	if c.QcoinAddress.IsZero() {
		return fmt.Errorf("claim data missing qcoinAddress")
	}
	return nil
}

// VerifySignatures checks that all regular (non-coinbase, non-claim) input
// signatures are valid ML-DSA-65 signatures over the transaction id, as
// computed from the current inputs, outputs and timestamp (not the stored ID).
func (tx *Transaction) VerifySignatures() error {
	if tx.IsCoinbase() || tx.IsClaim() {
		return nil
	}
	id := tx.ComputeID()
	for i, in := range tx.Inputs {
		if !crypto.VerifyMLDSA(in.PublicKey, id[:], in.Signature) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}
