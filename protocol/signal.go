// Package protocol implements the binary wire format exchanged between mesh peers.
//
// This package implements:
//   - Signal codes and the fixed code -> name table
//   - Circuit-breaker metadata carried inside signal payloads
//   - Encoding and defensive decoding of the 12-byte header + JSON payload frame
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Code identifies the type of a signal on the wire.
type Code uint16

// Known signal codes. Values are part of the wire contract and must not change.
const (
	DecisionPending     Code = 0x0101
	OperationComplete   Code = 0x0102
	LessonLearned       Code = 0x0103
	Heartbeat           Code = 0x0104
	TenetViolation      Code = 0x0201
	CounterfeitDetected Code = 0x0202
	EthicsAffirmed      Code = 0x0203
	BlindSpotAlert      Code = 0x0204
	RemediationNeeded   Code = 0x0205
)

var signalNames = map[Code]string{
	DecisionPending:     "DECISION_PENDING",
	OperationComplete:   "OPERATION_COMPLETE",
	LessonLearned:       "LESSON_LEARNED",
	Heartbeat:           "HEARTBEAT",
	TenetViolation:      "TENET_VIOLATION",
	CounterfeitDetected: "COUNTERFEIT_DETECTED",
	EthicsAffirmed:      "ETHICS_AFFIRMED",
	BlindSpotAlert:      "BLIND_SPOT_ALERT",
	RemediationNeeded:   "REMEDIATION_NEEDED",
}

// SignalName returns the registered name for code, or UNKNOWN_0x<hex> for codes
// outside the table.
func SignalName(code Code) string {
	if name, ok := signalNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_0x%04X", uint16(code))
}

// IsKnownSignal reports whether code is in the signal table.
func IsKnownSignal(code Code) bool {
	_, ok := signalNames[code]
	return ok
}

// KnownSignalNames returns the names of every known signal, ordered by code.
func KnownSignalNames() []string {
	codes := []Code{
		DecisionPending, OperationComplete, LessonLearned, Heartbeat,
		TenetViolation, CounterfeitDetected, EthicsAffirmed, BlindSpotAlert, RemediationNeeded,
	}
	names := make([]string, 0, len(codes))
	for _, c := range codes {
		names = append(names, signalNames[c])
	}
	return names
}

func (c Code) String() string {
	return SignalName(c)
}

// Metadata is the circuit-breaker envelope of a signal. Signals from legacy
// senders carry none.
type Metadata struct {
	SignalID       string `json:"signal_id"`
	OriginServer   string `json:"origin_server"`
	HopCount       int    `json:"hop_count"`
	ParentSignalID string `json:"parent_signal_id,omitempty"`
	// Timestamp is in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewMetadata creates metadata for a signal originating at this server.
func NewMetadata(origin string, now time.Time) *Metadata {
	return &Metadata{
		SignalID:     uuid.NewString(),
		OriginServer: origin,
		HopCount:     0,
		Timestamp:    now.UnixMilli(),
	}
}

// ChildMetadata creates metadata for a signal emitted in reaction to parent.
// A nil parent (legacy sender) is treated as hop zero.
func ChildMetadata(parent *Metadata, origin string, now time.Time) *Metadata {
	md := NewMetadata(origin, now)
	if parent != nil {
		md.HopCount = parent.HopCount + 1
		md.ParentSignalID = parent.SignalID
	} else {
		md.HopCount = 1
	}
	return md
}

// Signal is a typed, timestamped event exchanged between mesh peers.
type Signal struct {
	Code      Code           `json:"code"`
	Name      string         `json:"name"`
	Sender    string         `json:"sender"`
	Version   uint16         `json:"version"`
	Timestamp int64          `json:"timestamp"` // Unix seconds
	Payload   map[string]any `json:"payload,omitempty"`
	Metadata  *Metadata      `json:"metadata,omitempty"`
}

// NewSignal builds a signal stamped with the current protocol version.
func NewSignal(code Code, sender string, payload map[string]any, now time.Time) Signal {
	return Signal{
		Code:      code,
		Name:      SignalName(code),
		Sender:    sender,
		Version:   ProtocolVersion,
		Timestamp: now.Unix(),
		Payload:   payload,
	}
}

// PayloadString returns payload[key] when it is a non-empty string.
func (s Signal) PayloadString(key string) (string, bool) {
	v, ok := s.Payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// EmitFunc sends a new signal of the given type into the mesh.
type EmitFunc func(code Code, payload map[string]any)
