package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// HeaderSize is the fixed size of the frame header in bytes.
	HeaderSize = 12

	// ProtocolVersion is the current protocol version (1.0).
	ProtocolVersion uint16 = 0x0100

	// MaxDatagramSize is the largest payload a single UDP datagram can carry over IPv4.
	MaxDatagramSize = 65507

	senderKey   = "sender"
	metadataKey = "metadata"
	unknownPeer = "unknown"
)

// Decode and encode errors.
var (
	ErrShortBuffer      = errors.New("buffer shorter than header")
	ErrTruncatedPayload = errors.New("declared payload length exceeds buffer")
	ErrInvalidPayload   = errors.New("payload is not a JSON object")
	ErrPayloadTooLarge  = errors.New("frame exceeds maximum datagram size")
	ErrReservedKey      = errors.New("payload uses a reserved key")
	ErrInvalidMetadata  = errors.New("malformed signal metadata")
)

// Encode serializes {sender, ...data} behind a header stamped with the current time.
// data must not use the "metadata" key; attach metadata with EncodeSignal.
func Encode(code Code, sender string, data map[string]any) ([]byte, error) {
	if _, ok := data[metadataKey]; ok {
		return nil, fmt.Errorf("%w: %q", ErrReservedKey, metadataKey)
	}
	return encodeFrame(code, sender, data, nil, time.Now().Unix())
}

// EncodeSignal serializes sig, including its circuit-breaker metadata.
// A zero timestamp is replaced by the current time. A payload "metadata" value
// is only carried through for legacy signals and never if it looks like an envelope.
func EncodeSignal(sig Signal) ([]byte, error) {
	if v, ok := sig.Payload[metadataKey]; ok && (sig.Metadata != nil || claimsEnvelope(v)) {
		return nil, fmt.Errorf("%w: %q", ErrReservedKey, metadataKey)
	}
	ts := sig.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return encodeFrame(sig.Code, sig.Sender, sig.Payload, sig.Metadata, ts)
}

func encodeFrame(code Code, sender string, data map[string]any, md *Metadata, ts int64) ([]byte, error) {
	body := make(map[string]any, len(data)+2)
	for k, v := range data {
		body[k] = v
	}
	body[senderKey] = sender
	if md != nil {
		body[metadataKey] = md
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if len(payload) > MaxDatagramSize-HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrPayloadTooLarge, len(payload)+HeaderSize, MaxDatagramSize)
	}
	if ts < 0 || ts > math.MaxUint32 {
		return nil, fmt.Errorf("timestamp %d out of range", ts)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], uint16(code))
	binary.BigEndian.PutUint16(frame[2:4], ProtocolVersion)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload))) // #nosec G115 - bounded above
	binary.BigEndian.PutUint32(frame[8:12], uint32(ts))          // #nosec G115 - bounded above
	copy(frame[HeaderSize:], payload)

	return frame, nil
}

// Decode parses a frame. It never panics; any malformed input yields an error
// and the caller drops the datagram.
func Decode(buf []byte) (Signal, error) {
	if len(buf) < HeaderSize {
		return Signal{}, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(buf))
	}

	code := Code(binary.BigEndian.Uint16(buf[0:2]))
	version := binary.BigEndian.Uint16(buf[2:4])
	length := binary.BigEndian.Uint32(buf[4:8])
	ts := binary.BigEndian.Uint32(buf[8:12])

	// Compare in uint64 so a hostile length cannot overflow.
	if uint64(HeaderSize)+uint64(length) > uint64(len(buf)) {
		return Signal{}, fmt.Errorf("%w: declared %d, have %d", ErrTruncatedPayload, length, len(buf)-HeaderSize)
	}

	var body map[string]any
	if err := json.Unmarshal(buf[HeaderSize:HeaderSize+int(length)], &body); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if body == nil {
		return Signal{}, ErrInvalidPayload
	}

	sender, ok := body[senderKey].(string)
	if !ok {
		sender = unknownPeer
	}
	delete(body, senderKey)

	// Only an object carrying signal_id is an envelope; anything else under the
	// key is ordinary payload from a legacy sender.
	var md *Metadata
	if raw := body[metadataKey]; claimsEnvelope(raw) {
		if md = parseMetadata(raw); md == nil {
			return Signal{}, ErrInvalidMetadata
		}
		delete(body, metadataKey)
	}

	return Signal{
		Code:      code,
		Name:      SignalName(code),
		Sender:    sender,
		Version:   version,
		Timestamp: int64(ts),
		Payload:   body,
		Metadata:  md,
	}, nil
}

func claimsEnvelope(raw any) bool {
	obj, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	_, ok = obj["signal_id"]
	return ok
}

// parseMetadata returns nil for an envelope with missing or mistyped fields.
func parseMetadata(raw any) *Metadata {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	id, _ := obj["signal_id"].(string)
	if id == "" {
		return nil
	}
	hops, ok := obj["hop_count"].(float64)
	if !ok || hops < 0 || hops > math.MaxInt32 || hops != math.Trunc(hops) {
		return nil
	}
	ts, ok := obj["timestamp"].(float64)
	if !ok {
		return nil
	}
	origin, _ := obj["origin_server"].(string)
	parent, _ := obj["parent_signal_id"].(string)

	return &Metadata{
		SignalID:       id,
		OriginServer:   origin,
		HopCount:       int(hops),
		ParentSignalID: parent,
		Timestamp:      int64(ts),
	}
}
