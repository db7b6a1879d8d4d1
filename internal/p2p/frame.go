package p2p

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// lengthPrefixSize is the width of the big-endian frame length prefix.
const lengthPrefixSize = 4

// ErrOversizedFrame is returned when a frame's declared length exceeds
// MaxMessageSize. The connection must be dropped: there is no way to skip
// an oversized frame without trusting the same length field that
// triggered the error.
var ErrOversizedFrame = errors.New("p2p: frame exceeds maximum message size")

// ErrMalformedFrame wraps a frame whose body failed to parse as an
// envelope once a complete, size-valid frame had been read.
var ErrMalformedFrame = errors.New("p2p: malformed frame")

// WriteEnvelope frames env as a 4-byte big-endian length prefix followed by
// its JSON encoding, and writes it to w.
func WriteEnvelope(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if len(body) > MaxMessageSize {
		return ErrOversizedFrame
	}
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadEnvelope reads one length-prefixed envelope from r. It returns
// ErrOversizedFrame without consuming the body if the declared length
// exceeds MaxMessageSize, since doing so reliably would require trusting
// the same untrusted length field.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Envelope{}, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxMessageSize {
		return Envelope{}, ErrOversizedFrame
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return env, nil
}

// DecodeFrames scans buf for complete length-prefixed frames, returning the
// envelopes found and the unconsumed remainder (a partial frame awaiting
// more bytes). It stops at the first error: an oversized declared length,
// or a complete frame whose body isn't a valid envelope. Envelopes decoded
// before the error are still returned alongside it, since a caller may
// want to process what was valid before disconnecting.
func DecodeFrames(buf []byte) ([]Envelope, []byte, error) {
	var envelopes []Envelope
	for {
		if len(buf) < lengthPrefixSize {
			return envelopes, buf, nil
		}
		size := binary.BigEndian.Uint32(buf[:lengthPrefixSize])
		if size > MaxMessageSize {
			return envelopes, buf, ErrOversizedFrame
		}
		total := lengthPrefixSize + int(size)
		if len(buf) < total {
			return envelopes, buf, nil
		}
		var env Envelope
		if err := json.Unmarshal(buf[lengthPrefixSize:total], &env); err != nil {
			return envelopes, buf[total:], fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		envelopes = append(envelopes, env)
		buf = buf[total:]
	}
}
