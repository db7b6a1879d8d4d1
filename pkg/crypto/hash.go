// Package crypto provides cryptographic primitives for the QubitCoin node:
// double SHA-256 hashing, HASH160 key hashing, ML-DSA-65 transaction
// signatures, and the secp256k1 (ECDSA/Schnorr) verification used by the
// Bitcoin claim mechanism.
package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for Bitcoin-compatible HASH160

	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// Sha256 computes a single SHA-256 hash of the input.
func Sha256(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// Sha256d computes double SHA-256: sha256(sha256(data)). Used for block
// hashing, transaction ids, and merkle nodes throughout the chain.
func Sha256d(data []byte) types.Hash {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Hash160 computes RIPEMD-160(SHA-256(data)), Bitcoin's standard key-hash,
// used to recompute P2PKH/P2WPKH/P2SH-P2WPKH claim addresses.
func Hash160(data []byte) []byte {
	sh := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sh[:])
	return r.Sum(nil)
}

// AddressFromPubKey derives a qcoin address from an ML-DSA-65 public key:
// the full, untruncated SHA-256 digest of the encoded key.
func AddressFromPubKey(pubKey []byte) types.Address {
	return types.Address(Sha256(pubKey))
}

// HashConcat hashes the concatenation of two hashes via double SHA-256.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Sha256d(buf[:])
}
