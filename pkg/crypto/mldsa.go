package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// MLDSAPublicKeySize and MLDSASignatureSize match FIPS 204's ML-DSA-65
// parameter set (~1952 B public key, ~3309 B signature).
const (
	MLDSAPublicKeySize  = mldsa65.PublicKeySize
	MLDSASignatureSize  = mldsa65.SignatureSize
	MLDSAPrivateKeySize = mldsa65.PrivateKeySize
)

// MLDSAPrivateKey wraps an ML-DSA-65 signing key, the primary scheme used
// to sign regular transaction inputs.
type MLDSAPrivateKey struct {
	priv *mldsa65.PrivateKey
	pub  *mldsa65.PublicKey
}

// GenerateMLDSAKey creates a new random ML-DSA-65 keypair.
func GenerateMLDSAKey() (*MLDSAPrivateKey, error) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ml-dsa key: %w", err)
	}
	return &MLDSAPrivateKey{priv: priv, pub: pub}, nil
}

// MLDSAPrivateKeyFromBytes loads a private key from its encoded form.
func MLDSAPrivateKeyFromBytes(b []byte) (*MLDSAPrivateKey, error) {
	if len(b) != MLDSAPrivateKeySize {
		return nil, fmt.Errorf("ml-dsa private key must be %d bytes, got %d", MLDSAPrivateKeySize, len(b))
	}
	priv := new(mldsa65.PrivateKey)
	if err := priv.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("unmarshal ml-dsa private key: %w", err)
	}
	pub := priv.Public().(*mldsa65.PublicKey)
	return &MLDSAPrivateKey{priv: priv, pub: pub}, nil
}

// Sign produces an ML-DSA-65 signature over the given message (a
// transaction's signing digest).
func (k *MLDSAPrivateKey) Sign(message []byte) ([]byte, error) {
	sig := make([]byte, MLDSASignatureSize)
	if err := mldsa65.SignTo(k.priv, message, nil, false, sig); err != nil {
		return nil, fmt.Errorf("ml-dsa sign: %w", err)
	}
	return sig, nil
}

// PublicKey returns the encoded public key.
func (k *MLDSAPrivateKey) PublicKey() []byte {
	b, _ := k.pub.MarshalBinary()
	return b
}

// Serialize returns the encoded private key.
func (k *MLDSAPrivateKey) Serialize() []byte {
	b, _ := k.priv.MarshalBinary()
	return b
}

// VerifyMLDSA checks an ML-DSA-65 signature against a message and an
// encoded public key. Returns false (never panics) on any malformed input.
func VerifyMLDSA(publicKey, message, signature []byte) bool {
	if len(publicKey) != MLDSAPublicKeySize || len(signature) != MLDSASignatureSize {
		return false
	}
	pub := new(mldsa65.PublicKey)
	if err := pub.UnmarshalBinary(publicKey); err != nil {
		return false
	}
	return mldsa65.Verify(pub, message, nil, signature)
}
