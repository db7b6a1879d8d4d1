package crypto

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

// BtcAddressKind distinguishes the recomputation rule used to turn claim key
// material back into the legacy BTC address the snapshot recorded.
type BtcAddressKind int

const (
	// P2PKHOrP2WPKH covers both the legacy pay-to-pubkey-hash and native
	// segwit v0 encodings: both reduce to hex(HASH160(ecdsaPubKey)).
	P2PKHOrP2WPKH BtcAddressKind = iota
	// P2SHWrappedP2WPKH is a P2WPKH key wrapped in a P2SH redeem script.
	P2SHWrappedP2WPKH
	// P2TR is a taproot output key, tweaked per BIP-341.
	P2TR
	// P2WSH is a native segwit v0 script hash.
	P2WSH
)

// RecomputeBtcAddress derives the hex BTC address that the given claim key
// material would produce for the given address kind. witnessScript is only
// consulted for P2WSH claims.
func RecomputeBtcAddress(kind BtcAddressKind, pubKey, witnessScript []byte) (string, error) {
	switch kind {
	case P2PKHOrP2WPKH:
		return fmt.Sprintf("%x", Hash160(pubKey)), nil
	case P2SHWrappedP2WPKH:
		keyHash := Hash160(pubKey)
		redeem := make([]byte, 0, 2+len(keyHash))
		redeem = append(redeem, 0x00, 0x14)
		redeem = append(redeem, keyHash...)
		return fmt.Sprintf("%x", Hash160(redeem)), nil
	case P2TR:
		tweaked, err := TaprootTweakPubKey(pubKey)
		if err != nil {
			return "", fmt.Errorf("taproot tweak: %w", err)
		}
		return fmt.Sprintf("%x", tweaked), nil
	case P2WSH:
		h := Sha256(witnessScript)
		return fmt.Sprintf("%x", h.Bytes()), nil
	default:
		return "", fmt.Errorf("unknown btc address kind %d", kind)
	}
}

// TaprootTweakPubKey applies the BIP-341 key tweak to a 32-byte x-only
// public key with an empty script tree, returning the resulting 32-byte
// x-only output key, the form recorded as a P2TR BTC address.
func TaprootTweakPubKey(xOnlyPubKey []byte) ([]byte, error) {
	if len(xOnlyPubKey) != 32 {
		return nil, fmt.Errorf("x-only pubkey must be 32 bytes, got %d", len(xOnlyPubKey))
	}
	internal, err := schnorr.ParsePubKey(xOnlyPubKey)
	if err != nil {
		return nil, fmt.Errorf("parse x-only pubkey: %w", err)
	}
	outputKey := txscript.ComputeTaprootKeyNoScript(internal)
	out := schnorr.SerializePubKey(outputKey)
	return out, nil
}

// VerifyClaimECDSA checks an ECDSA-secp256k1 signature over a claim's
// signing digest, using a DER-encoded signature and a compressed or
// uncompressed public key. Returns false on any malformed input.
func VerifyClaimECDSA(pubKey, digest, signature []byte) bool {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pk)
}

// VerifyClaimSchnorr checks a BIP-340 Schnorr signature over a claim's
// signing digest, using a 32-byte x-only public key. Returns false on any
// malformed input.
func VerifyClaimSchnorr(xOnlyPubKey, digest, signature []byte) bool {
	pk, err := schnorr.ParsePubKey(xOnlyPubKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pk)
}

// ClaimMessage builds the digest a claim signature must cover:
// double_sha256("QCOIN_CLAIM:" || btcAddress || ":" || qcoinAddress || ":" || snapshotBlockHash).
func ClaimMessage(btcAddress, qcoinAddress, snapshotBlockHash string) []byte {
	s := "QCOIN_CLAIM:" + btcAddress + ":" + qcoinAddress + ":" + snapshotBlockHash
	h := Sha256d([]byte(s))
	return h.Bytes()
}

// VerifyClaimMultisig checks that at least m of the given ECDSA-secp256k1
// signatures verify over digest against distinct public keys extracted from
// a bare "OP_m <pubkey>... OP_n OP_CHECKMULTISIG" witness script (the P2WSH
// claim case). Each signature is matched against the first unmatched
// public key it verifies against, so duplicate signatures can't count
// twice toward the threshold.
func VerifyClaimMultisig(witnessScript, digest []byte, signatures [][]byte) (bool, error) {
	m, pubKeys, err := parseBareMultisig(witnessScript)
	if err != nil {
		return false, err
	}

	matched := make([]bool, len(pubKeys))
	valid := 0
	for _, sig := range signatures {
		for i, pk := range pubKeys {
			if matched[i] {
				continue
			}
			if VerifyClaimECDSA(pk, digest, sig) {
				matched[i] = true
				valid++
				break
			}
		}
	}
	return valid >= m, nil
}

// parseBareMultisig extracts the (m, pubkeys) threshold from a bare
// CHECKMULTISIG witness script, without relying on a full script
// interpreter: OP_m, then one compressed-or-uncompressed pubkey push per
// key, then OP_n OP_CHECKMULTISIG.
func parseBareMultisig(script []byte) (int, [][]byte, error) {
	if len(script) < 3 || script[len(script)-1] != txscript.OP_CHECKMULTISIG {
		return 0, nil, fmt.Errorf("witness script is not a bare multisig script")
	}

	m := smallInt(script[0])
	if m < 1 {
		return 0, nil, fmt.Errorf("witness script has an invalid threshold opcode")
	}

	var pubKeys [][]byte
	i := 1
	for i < len(script)-2 {
		pushLen := int(script[i])
		if pushLen < 33 || pushLen > 65 || i+1+pushLen > len(script)-2 {
			break
		}
		pubKeys = append(pubKeys, script[i+1:i+1+pushLen])
		i += 1 + pushLen
	}

	n := smallInt(script[i])
	if n != len(pubKeys) {
		return 0, nil, fmt.Errorf("witness script key count %d does not match declared n=%d", len(pubKeys), n)
	}

	return m, pubKeys, nil
}

// smallInt decodes a Bitcoin script small-integer opcode (OP_0, OP_1..OP_16)
// into its numeric value, or -1 if op is not a small-integer opcode.
func smallInt(op byte) int {
	if op == txscript.OP_0 {
		return 0
	}
	if op >= txscript.OP_1 && op <= txscript.OP_16 {
		return int(op-txscript.OP_1) + 1
	}
	return -1
}
