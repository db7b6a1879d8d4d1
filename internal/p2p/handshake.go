package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	klog "github.com/qubitcoin-project/qcoind/internal/log"
)

// handshake performs the version/verack exchange over an already-connected
// peer. Both sides run this symmetrically: each sends its version
// immediately without waiting on the other, then processes whatever
// arrives until both a valid version and a verack have been seen. The
// whole exchange must complete within HandshakeTimeout.
func (n *Node) handshake(p *Peer) error {
	p.setState(stateHandshaking)
	p.Conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer p.Conn.SetDeadline(time.Time{})

	ourVersion := n.buildVersion()
	env, err := encode(MsgVersion, ourVersion)
	if err != nil {
		return err
	}
	if err := WriteEnvelope(p.Conn, env); err != nil {
		return fmt.Errorf("send version: %w", err)
	}

	var gotVersion, gotVerack bool
	for !gotVersion || !gotVerack {
		in, err := ReadEnvelope(p.Reader)
		if err != nil {
			return fmt.Errorf("read during handshake: %w", err)
		}

		switch in.Type {
		case MsgVersion:
			var v VersionPayload
			if err := json.Unmarshal(in.Payload, &v); err != nil {
				return fmt.Errorf("malformed version payload: %w", err)
			}
			if reason := n.validateVersion(v); reason != "" {
				rejectEnv, _ := encode(MsgReject, RejectPayload{Reason: reason})
				WriteEnvelope(p.Conn, rejectEnv)
				return fmt.Errorf("handshake rejected: %s", reason)
			}
			p.recordVersion(v)
			gotVersion = true

			verackEnv, err := encode(MsgVerack, nil)
			if err != nil {
				return err
			}
			if err := WriteEnvelope(p.Conn, verackEnv); err != nil {
				return fmt.Errorf("send verack: %w", err)
			}

		case MsgVerack:
			gotVerack = true

		case MsgReject:
			var r RejectPayload
			json.Unmarshal(in.Payload, &r)
			return fmt.Errorf("peer rejected handshake: %s", r.Reason)

		default:
			return fmt.Errorf("unexpected message %q during handshake", in.Type)
		}
	}

	p.setState(stateReady)
	p.touch()
	klog.P2P.Info().
		Str("peer", p.Address).
		Uint64("height", p.Height()).
		Bool("outbound", p.Outbound).
		Msg("handshake complete")
	return nil
}

// validateVersion checks a peer's version payload for compatibility.
// Returns an empty string on success, or a disconnect reason on failure.
func (n *Node) validateVersion(v VersionPayload) string {
	if v.GenesisHash != n.genesisHash {
		return fmt.Sprintf("genesis mismatch: peer=%s local=%s",
			v.GenesisHash.String()[:16], n.genesisHash.String()[:16])
	}
	if v.Version < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d", v.Version, MinProtocolVersion)
	}
	return ""
}

// buildVersion constructs this node's outbound version payload.
func (n *Node) buildVersion() VersionPayload {
	v := VersionPayload{
		Version:     ProtocolVersion,
		GenesisHash: n.genesisHash,
		UserAgent:   "qcoind/" + fmt.Sprint(ProtocolVersion),
		ListenPort:  n.cfg.Port,
	}
	if n.chain != nil {
		v.Height = n.chain.Height()
		if work := n.chain.State().CumulativeWork; work != nil {
			v.CumulativeWork = work.String()
		}
	}
	return v
}
