package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion selects the wire dialect once at startup.
type ProtocolVersion int

const (
	// ProtocolV1 sends one subscribe frame per instrument.
	ProtocolV1 ProtocolVersion = iota + 1
	// ProtocolV2 batches every instrument into a single frame.
	ProtocolV2
)

func (p ProtocolVersion) String() string {
	switch p {
	case ProtocolV1:
		return "v1"
	case ProtocolV2:
		return "v2"
	default:
		return fmt.Sprintf("v?(%d)", int(p))
	}
}

func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "v1", "1":
		return ProtocolV1, nil
	case "v2", "2":
		return ProtocolV2, nil
	default:
		return 0, fmt.Errorf("unsupported venue protocol %q", s)
	}
}

// Protocol builds the frames of one dialect.
type Protocol interface {
	Version() ProtocolVersion
	AuthFrame(userID, sessionID string) ([]byte, error)
	SubscribeFrames(keys []string) ([][]byte, error)
	UnsubscribeFrames(keys []string) ([][]byte, error)
}

func NewProtocol(v ProtocolVersion) (Protocol, error) {
	switch v {
	case ProtocolV1:
		return perInstrumentProtocol{}, nil
	case ProtocolV2:
		return batchedProtocol{}, nil
	default:
		return nil, fmt.Errorf("unsupported venue protocol %s", v)
	}
}

// SessionToken is the double sha256 the stream expects as susertoken.
func SessionToken(sessionID string) string {
	first := sha256.Sum256([]byte(sessionID))
	second := sha256.Sum256([]byte(hex.EncodeToString(first[:])))
	return hex.EncodeToString(second[:])
}

type authFrame struct {
	Type       string `json:"t"`
	SUserToken string `json:"susertoken"`
	ActID      string `json:"actid"`
	UID        string `json:"uid"`
	Source     string `json:"source"`
}

type keyFrame struct {
	Type string `json:"t"`
	Key  string `json:"k"`
}

func buildAuthFrame(userID, sessionID string) ([]byte, error) {
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("missing user or session id")
	}
	return json.Marshal(authFrame{
		Type:       "c",
		SUserToken: SessionToken(sessionID),
		ActID:      userID + "_API",
		UID:        userID + "_API",
		Source:     "API",
	})
}

type perInstrumentProtocol struct{}

func (perInstrumentProtocol) Version() ProtocolVersion { return ProtocolV1 }

func (perInstrumentProtocol) AuthFrame(userID, sessionID string) ([]byte, error) {
	return buildAuthFrame(userID, sessionID)
}

func (perInstrumentProtocol) SubscribeFrames(keys []string) ([][]byte, error) {
	return eachKey("t", keys)
}

func (perInstrumentProtocol) UnsubscribeFrames(keys []string) ([][]byte, error) {
	return eachKey("u", keys)
}

type batchedProtocol struct{}

func (batchedProtocol) Version() ProtocolVersion { return ProtocolV2 }

func (batchedProtocol) AuthFrame(userID, sessionID string) ([]byte, error) {
	return buildAuthFrame(userID, sessionID)
}

func (batchedProtocol) SubscribeFrames(keys []string) ([][]byte, error) {
	return batched("t", keys)
}

func (batchedProtocol) UnsubscribeFrames(keys []string) ([][]byte, error) {
	return batched("u", keys)
}

func eachKey(kind string, keys []string) ([][]byte, error) {
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		b, err := json.Marshal(keyFrame{Type: kind, Key: k})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func batched(kind string, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(keyFrame{Type: kind, Key: strings.Join(keys, "#")})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}
