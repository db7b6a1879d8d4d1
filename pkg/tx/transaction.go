// Package tx defines transaction types and validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// CoinbaseTxID is the sentinel prevout txid for coinbase inputs: all zeros.
var CoinbaseTxID = types.Hash{}

// ClaimTxID is the sentinel prevout txid for claim inputs, distinguishable
// from CoinbaseTxID by having its high byte set.
var ClaimTxID = types.Hash{0xff}

// CoinbaseOutputIndex is the fixed outputIndex carried by coinbase inputs.
const CoinbaseOutputIndex = 0xFFFFFFFF

// Transaction is a QubitCoin transaction: a set of inputs spending prior
// outputs (or the coinbase/claim sentinels), a set of new outputs, a
// creation timestamp, and optionally claim data redeeming a Bitcoin
// snapshot balance.
type Transaction struct {
	ID        types.Hash `json:"id"`
	Inputs    []Input    `json:"inputs"`
	Outputs   []Output   `json:"outputs"`
	Timestamp int64      `json:"timestamp"`
	ClaimData *ClaimData `json:"claimData,omitempty"`
}

// Input references a spent output by (txId, outputIndex) and carries the
// key material authorizing the spend. Regular inputs carry an ML-DSA-65
// public key and signature; claim inputs carry neither. A coinbase input
// carries no signature and may carry a free-form coinbase message in
// PublicKey.
type Input struct {
	TxID        types.Hash `json:"txId"`
	OutputIndex uint32     `json:"outputIndex"`
	PublicKey   []byte     `json:"publicKey"`
	Signature   []byte     `json:"signature"`
}

type inputJSON struct {
	TxID        types.Hash `json:"txId"`
	OutputIndex uint32     `json:"outputIndex"`
	PublicKey   *string    `json:"publicKey,omitempty"`
	Signature   *string    `json:"signature,omitempty"`
}

// MarshalJSON encodes the input with hex-encoded key material.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{TxID: in.TxID, OutputIndex: in.OutputIndex}
	if len(in.PublicKey) > 0 {
		s := hex.EncodeToString(in.PublicKey)
		j.PublicKey = &s
	}
	if len(in.Signature) > 0 {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded key material.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.TxID = j.TxID
	in.OutputIndex = j.OutputIndex
	if j.PublicKey != nil {
		b, err := hex.DecodeString(*j.PublicKey)
		if err != nil {
			return fmt.Errorf("decode publicKey: %w", err)
		}
		in.PublicKey = b
	}
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return fmt.Errorf("decode signature: %w", err)
		}
		in.Signature = b
	}
	return nil
}

// IsCoinbase reports whether this input is the coinbase sentinel.
func (in Input) IsCoinbase() bool {
	return in.TxID == CoinbaseTxID && in.OutputIndex == CoinbaseOutputIndex
}

// IsClaim reports whether this input is the claim sentinel.
func (in Input) IsClaim() bool {
	return in.TxID == ClaimTxID
}

// Output creates a new UTXO paying amount to address.
type Output struct {
	Address types.Address `json:"address"`
	Amount  uint64        `json:"amount"`
}

// ClaimData is present only on claim transactions: it proves ownership of a
// Bitcoin address recorded in the fork-genesis snapshot and names the
// qcoin address the redeemed balance should be paid to.
type ClaimData struct {
	BtcAddress       string `json:"btcAddress"`
	EcdsaPublicKey   []byte `json:"ecdsaPublicKey,omitempty"`
	SchnorrPublicKey []byte `json:"schnorrPublicKey,omitempty"`
	WitnessScript    []byte `json:"witnessScript,omitempty"`
	Signature        []byte `json:"signature,omitempty"`
	Signatures       [][]byte `json:"signatures,omitempty"`
	QcoinAddress     types.Address `json:"qcoinAddress"`
}

type claimDataJSON struct {
	BtcAddress       string        `json:"btcAddress"`
	EcdsaPublicKey   *string       `json:"ecdsaPublicKey,omitempty"`
	SchnorrPublicKey *string       `json:"schnorrPublicKey,omitempty"`
	WitnessScript    *string       `json:"witnessScript,omitempty"`
	Signature        *string       `json:"signature,omitempty"`
	Signatures       []string      `json:"signatures,omitempty"`
	QcoinAddress     types.Address `json:"qcoinAddress"`
}

// MarshalJSON encodes claim data with hex-encoded byte fields.
func (c ClaimData) MarshalJSON() ([]byte, error) {
	j := claimDataJSON{BtcAddress: c.BtcAddress, QcoinAddress: c.QcoinAddress}
	if len(c.EcdsaPublicKey) > 0 {
		s := hex.EncodeToString(c.EcdsaPublicKey)
		j.EcdsaPublicKey = &s
	}
	if len(c.SchnorrPublicKey) > 0 {
		s := hex.EncodeToString(c.SchnorrPublicKey)
		j.SchnorrPublicKey = &s
	}
	if len(c.WitnessScript) > 0 {
		s := hex.EncodeToString(c.WitnessScript)
		j.WitnessScript = &s
	}
	if len(c.Signature) > 0 {
		s := hex.EncodeToString(c.Signature)
		j.Signature = &s
	}
	if len(c.Signatures) > 0 {
		j.Signatures = make([]string, len(c.Signatures))
		for i, sig := range c.Signatures {
			j.Signatures[i] = hex.EncodeToString(sig)
		}
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes claim data with hex-encoded byte fields.
func (c *ClaimData) UnmarshalJSON(data []byte) error {
	var j claimDataJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	c.BtcAddress = j.BtcAddress
	c.QcoinAddress = j.QcoinAddress
	decode := func(s *string) ([]byte, error) {
		if s == nil {
			return nil, nil
		}
		return hex.DecodeString(*s)
	}
	var err error
	if c.EcdsaPublicKey, err = decode(j.EcdsaPublicKey); err != nil {
		return fmt.Errorf("decode ecdsaPublicKey: %w", err)
	}
	if c.SchnorrPublicKey, err = decode(j.SchnorrPublicKey); err != nil {
		return fmt.Errorf("decode schnorrPublicKey: %w", err)
	}
	if c.WitnessScript, err = decode(j.WitnessScript); err != nil {
		return fmt.Errorf("decode witnessScript: %w", err)
	}
	if c.Signature, err = decode(j.Signature); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(j.Signatures) > 0 {
		c.Signatures = make([][]byte, len(j.Signatures))
		for i, s := range j.Signatures {
			b, err := hex.DecodeString(s)
			if err != nil {
				return fmt.Errorf("decode signatures[%d]: %w", i, err)
			}
			c.Signatures[i] = b
		}
	}
	return nil
}

// ComputeID derives the transaction id: double_sha256 of the canonical
// serialization of (inputs[txId,outputIndex], outputs, timestamp).
// Signature material and public keys are deliberately excluded so the id
// is stable across signing.
func (tx *Transaction) ComputeID() types.Hash {
	return crypto.Sha256d(tx.signingBytes())
}

// signingBytes returns the canonical byte representation hashed into the
// transaction id. Layout: input_count(4) | [txId(32) outputIndex(4)]... |
// output_count(4) | [address(32) amount(8)]... | timestamp(8).
func (tx *Transaction) signingBytes() []byte {
	var buf []byte

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.OutputIndex)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = append(buf, out.Address[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, out.Amount)
	}

	buf = binary.LittleEndian.AppendUint64(buf, uint64(tx.Timestamp))
	return buf
}

// TotalOutputValue returns the sum of all output amounts, erroring on
// uint64 overflow.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Amount {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Amount
	}
	return total, nil
}

// Size computes the transaction's byte-exact wire size, used for
// block-size enforcement:
// 32 (id) + 8 (timestamp) + Σ inputs[32+4+|pubkey|+|sig|] + Σ outputs[32+8]
// + claimData overhead if present.
func (tx *Transaction) Size() int {
	size := 32 + 8
	for _, in := range tx.Inputs {
		size += 32 + 4 + len(in.PublicKey) + len(in.Signature)
	}
	size += len(tx.Outputs) * (32 + 8)
	if tx.ClaimData != nil {
		size += len(tx.ClaimData.BtcAddress)
		size += len(tx.ClaimData.EcdsaPublicKey)
		size += len(tx.ClaimData.Signature)
		size += types.AddressSize
	}
	return size
}

// IsCoinbase reports whether this is a coinbase transaction: exactly one
// input carrying the coinbase sentinel.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].IsCoinbase()
}

// IsClaim reports whether this is a claim transaction.
func (tx *Transaction) IsClaim() bool {
	return tx.ClaimData != nil && len(tx.Inputs) == 1 && tx.Inputs[0].IsClaim()
}
