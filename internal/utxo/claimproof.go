package utxo

import (
	"errors"
	"fmt"

	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
)

// Claim proof verification errors, shared by any consumer (chain block
// validation, mempool admission) that checks a claim transaction against a
// snapshot entry.
var (
	ErrClaimAddrMismatch = errors.New("claim key material does not recompute btcAddress")
	ErrClaimBadSignature = errors.New("claim signature does not verify")
	ErrClaimBadOutputs   = errors.New("claim outputs do not match snapshot entry")
)

// VerifyClaimProof checks a claim transaction's proof against a resolved
// snapshot entry: the supplied key material must recompute the claimed
// Bitcoin address exactly, the signature(s) must verify over the claim
// digest for blockHash, and the transaction must pay the snapshot's full
// amount to the claimed qcoin address in a single output. It does not check
// snapshot membership or prior-redemption state — callers resolve the entry
// and track redemption themselves (a block-indexed claim registry for the
// chain, a caller-supplied pending set for the mempool).
func VerifyClaimProof(t *tx.Transaction, entry SnapshotEntry, blockHash string) error {
	cd := t.ClaimData

	var recomputed string
	var err error
	switch entry.Kind {
	case crypto.P2WSH:
		recomputed, err = crypto.RecomputeBtcAddress(crypto.P2WSH, nil, cd.WitnessScript)
	case crypto.P2TR:
		recomputed, err = crypto.RecomputeBtcAddress(crypto.P2TR, cd.SchnorrPublicKey, nil)
	default:
		recomputed, err = crypto.RecomputeBtcAddress(entry.Kind, cd.EcdsaPublicKey, nil)
	}
	if err != nil {
		return fmt.Errorf("recompute btc address: %w", err)
	}
	if recomputed != cd.BtcAddress {
		return fmt.Errorf("%w: recomputed %s, claimed %s", ErrClaimAddrMismatch, recomputed, cd.BtcAddress)
	}

	digest := crypto.ClaimMessage(cd.BtcAddress, cd.QcoinAddress.String(), blockHash)

	switch entry.Kind {
	case crypto.P2WSH:
		ok, err := crypto.VerifyClaimMultisig(cd.WitnessScript, digest, cd.Signatures)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrClaimBadSignature, err)
		}
		if !ok {
			return ErrClaimBadSignature
		}
	case crypto.P2TR:
		if !crypto.VerifyClaimSchnorr(cd.SchnorrPublicKey, digest, cd.Signature) {
			return ErrClaimBadSignature
		}
	default:
		if !crypto.VerifyClaimECDSA(cd.EcdsaPublicKey, digest, cd.Signature) {
			return ErrClaimBadSignature
		}
	}

	if len(t.Outputs) != 1 || t.Outputs[0].Address != cd.QcoinAddress || t.Outputs[0].Amount != entry.Amount {
		return ErrClaimBadOutputs
	}

	return nil
}
