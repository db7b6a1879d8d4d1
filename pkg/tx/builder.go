package tx

import (
	"fmt"

	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a new transaction builder stamped with the given
// creation timestamp (milliseconds since epoch).
func NewBuilder(timestampMs int64) *Builder {
	return &Builder{tx: &Transaction{Timestamp: timestampMs}}
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{TxID: prevOut.TxID, OutputIndex: prevOut.Index})
	return b
}

// AddOutput adds an output paying amount to address.
func (b *Builder) AddOutput(address types.Address, amount uint64) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Address: address, Amount: amount})
	return b
}

// Finalize computes and stamps the transaction id from its current inputs,
// outputs, and timestamp. Must run before Sign, since signatures cover the
// id and the id excludes signature material.
func (b *Builder) Finalize() *Builder {
	b.tx.ID = b.tx.ComputeID()
	return b
}

// Sign signs every input with the same ML-DSA-65 key (single-key spending).
// Call Finalize first.
func (b *Builder) Sign(key *crypto.MLDSAPrivateKey) error {
	sig, err := key.Sign(b.tx.ID[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	pubKey := key.PublicKey()
	for i := range b.tx.Inputs {
		b.tx.Inputs[i].Signature = sig
		b.tx.Inputs[i].PublicKey = pubKey
	}
	return nil
}

// SignMulti signs each input with the key that owns its outpoint.
// outpointAddr maps each input's outpoint to the address that owns it.
// signers maps each address to the ML-DSA-65 private key that can spend
// from it. Call Finalize first.
func (b *Builder) SignMulti(
	signers map[types.Address]*crypto.MLDSAPrivateKey,
	outpointAddr map[types.Outpoint]types.Address,
) error {
	type sigPub struct {
		sig    []byte
		pubKey []byte
	}
	cache := make(map[types.Address]*sigPub)

	for i := range b.tx.Inputs {
		op := types.Outpoint{TxID: b.tx.Inputs[i].TxID, Index: b.tx.Inputs[i].OutputIndex}
		addr, ok := outpointAddr[op]
		if !ok {
			return fmt.Errorf("no address mapping for input %d outpoint", i)
		}
		key, ok := signers[addr]
		if !ok {
			return fmt.Errorf("no signer for address %s (input %d)", addr, i)
		}

		sp, cached := cache[addr]
		if !cached {
			sig, err := key.Sign(b.tx.ID[:])
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}
			sp = &sigPub{sig: sig, pubKey: key.PublicKey()}
			cache[addr] = sp
		}
		b.tx.Inputs[i].Signature = sp.sig
		b.tx.Inputs[i].PublicKey = sp.pubKey
	}
	return nil
}

// Build returns the constructed transaction. Does NOT validate — call
// tx.Validate() separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
