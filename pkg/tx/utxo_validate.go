package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound   = errors.New("input UTXO not found")
	ErrInsufficientFee = errors.New("insufficient fee")
	ErrInputOverflow   = errors.New("input values overflow")
	ErrAddressMismatch = errors.New("public key does not derive the UTXO's address")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	GetUTXO(outpoint types.Outpoint) (address types.Address, amount uint64, ok bool)
}

// ValidateWithUTXOs performs full validation of a regular transaction
// against the UTXO set: every input must resolve, its public key must
// derive the spent output's address, all signatures must verify, and
// inputs must cover outputs. Returns the fee (inputs - outputs). Coinbase
// and claim transactions are rejected; callers must route those through
// their own checks.
func (tx *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}
	if tx.IsCoinbase() || tx.IsClaim() {
		return 0, fmt.Errorf("ValidateWithUTXOs does not accept coinbase or claim transactions")
	}

	var totalInput uint64
	for i, in := range tx.Inputs {
		op := types.Outpoint{TxID: in.TxID, Index: in.OutputIndex}
		address, amount, ok := provider.GetUTXO(op)
		if !ok {
			return 0, fmt.Errorf("input %d (%s): %w", i, op, ErrInputNotFound)
		}

		derived := crypto.AddressFromPubKey(in.PublicKey)
		if derived != address {
			return 0, fmt.Errorf("input %d (%s): %w", i, op, ErrAddressMismatch)
		}

		if totalInput > math.MaxUint64-amount {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += amount
	}

	if err := tx.VerifySignatures(); err != nil {
		return 0, err
	}

	totalOutput, err := tx.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("output overflow: %w", err)
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFee, totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}
