package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/qubitcoin-project/qcoind/pkg/crypto"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// HeaderSize is the fixed, byte-exact size of a serialized header.
const HeaderSize = 4 + 32 + 32 + 8 + 32 + 4

// Header is a block's 112-byte proof-of-work envelope. Height lives outside
// the header (on Block), since it is not part of the hashed bytes.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"previousHash"`
	MerkleRoot types.Hash `json:"merkleRoot"`
	Timestamp  int64      `json:"timestamp"`
	Target     [32]byte   `json:"target"`
	Nonce      uint32     `json:"nonce"`
}

type headerJSON struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"previousHash"`
	MerkleRoot types.Hash `json:"merkleRoot"`
	Timestamp  int64      `json:"timestamp"`
	Target     string     `json:"target"`
	Nonce      uint32     `json:"nonce"`
}

// MarshalJSON encodes the header with a hex-encoded target.
func (h *Header) MarshalJSON() ([]byte, error) {
	return json.Marshal(headerJSON{
		Version:    h.Version,
		PrevHash:   h.PrevHash,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  h.Timestamp,
		Target:     hex.EncodeToString(h.Target[:]),
		Nonce:      h.Nonce,
	})
}

// UnmarshalJSON decodes a header with a hex-encoded target.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.PrevHash = j.PrevHash
	h.MerkleRoot = j.MerkleRoot
	h.Timestamp = j.Timestamp
	h.Nonce = j.Nonce
	if j.Target != "" {
		b, err := hex.DecodeString(j.Target)
		if err != nil {
			return fmt.Errorf("decode target: %w", err)
		}
		if len(b) != 32 {
			return fmt.Errorf("target must be 32 bytes, got %d", len(b))
		}
		copy(h.Target[:], b)
	}
	return nil
}

// Serialize returns the exact 112-byte wire encoding:
// version(4,LE) | previousHash(32) | merkleRoot(32) | timestamp(8,LE,ms) | target(32) | nonce(4,LE).
func (h *Header) Serialize() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.Timestamp))
	buf = append(buf, h.Target[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}

// DeserializeHeader parses a 112-byte header, erroring on any other length.
func DeserializeHeader(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("header must be exactly %d bytes, got %d", HeaderSize, len(b))
	}
	h := &Header{}
	h.Version = binary.LittleEndian.Uint32(b[0:4])
	copy(h.PrevHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	h.Timestamp = int64(binary.LittleEndian.Uint64(b[68:76]))
	copy(h.Target[:], b[76:108])
	h.Nonce = binary.LittleEndian.Uint32(b[108:112])
	return h, nil
}

// Hash computes the block hash: double_sha256 of the serialized header.
func (h *Header) Hash() types.Hash {
	return crypto.Sha256d(h.Serialize())
}
