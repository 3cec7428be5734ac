package protocol

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		code    Code
		sender  string
		payload map[string]any
		wantErr error
	}{
		{"decision", DecisionPending, "node-a", map[string]any{"decision_text": "ship it", "stakeholders": []any{"ops", "users"}}, nil},
		{"nested", LessonLearned, "node-b", map[string]any{"lesson": "x", "detail": map[string]any{"score": 0.75, "ok": true}}, nil},
		{"empty payload", Heartbeat, "node-c", map[string]any{}, nil},
		{"unknown code", Code(0x7777), "node-d", map[string]any{"n": float64(42)}, nil},
		{"unicode sender", EthicsAffirmed, "nœud-ß", map[string]any{"text": "héllo"}, nil},
		{"nested metadata key", LessonLearned, "node-e", map[string]any{"detail": map[string]any{"metadata": map[string]any{"author": "alice"}}}, nil},
		{"reserved key", LessonLearned, "node-f", map[string]any{"metadata": map[string]any{"author": "alice"}, "x": "y"}, ErrReservedKey},
		{"envelope-shaped data", LessonLearned, "node-g", map[string]any{"metadata": map[string]any{"signal_id": "a", "hop_count": float64(5), "timestamp": float64(1)}}, ErrReservedKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := time.Now().Unix()
			frame, err := Encode(tc.code, tc.sender, tc.payload)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("Expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			sig, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if sig.Code != tc.code {
				t.Errorf("Expected code %v, got %v", tc.code, sig.Code)
			}
			if sig.Sender != tc.sender {
				t.Errorf("Expected sender %q, got %q", tc.sender, sig.Sender)
			}
			if sig.Version != ProtocolVersion {
				t.Errorf("Expected version 0x%04X, got 0x%04X", ProtocolVersion, sig.Version)
			}
			if sig.Timestamp < before || sig.Timestamp > time.Now().Unix() {
				t.Errorf("Timestamp %d outside encode window", sig.Timestamp)
			}
			if diff := cmp.Diff(tc.payload, sig.Payload); diff != "" {
				t.Errorf("Payload mismatch (-want +got):\n%s", diff)
			}
			if sig.Metadata != nil {
				t.Errorf("Expected no metadata, got %+v", sig.Metadata)
			}
		})
	}
}

func TestEncodeSignalCarriesMetadata(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	parent := NewMetadata("origin", now)
	md := ChildMetadata(parent, "relay", now)

	sig := NewSignal(TenetViolation, "relay", map[string]any{"tenet": "honesty"}, now)
	sig.Metadata = md

	frame, err := EncodeSignal(sig)
	if err != nil {
		t.Fatalf("EncodeSignal failed: %v", err)
	}

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if diff := cmp.Diff(md, got.Metadata); diff != "" {
		t.Errorf("Metadata mismatch (-want +got):\n%s", diff)
	}
	if _, ok := got.Payload["metadata"]; ok {
		t.Error("metadata should be lifted out of the payload")
	}
	if got.Timestamp != now.Unix() {
		t.Errorf("Expected timestamp %d, got %d", now.Unix(), got.Timestamp)
	}
	if got.Metadata.HopCount != 1 || got.Metadata.ParentSignalID != parent.SignalID {
		t.Errorf("Unexpected child metadata: %+v", got.Metadata)
	}
}

func TestHeaderLayout(t *testing.T) {
	frame, err := Encode(OperationComplete, "n", map[string]any{"operation": "deploy"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if got := binary.BigEndian.Uint16(frame[0:2]); got != uint16(OperationComplete) {
		t.Errorf("Expected type 0x%04X, got 0x%04X", OperationComplete, got)
	}
	if got := binary.BigEndian.Uint16(frame[2:4]); got != 0x0100 {
		t.Errorf("Expected version 0x0100, got 0x%04X", got)
	}
	if got := binary.BigEndian.Uint32(frame[4:8]); int(got) != len(frame)-HeaderSize {
		t.Errorf("Expected payload length %d, got %d", len(frame)-HeaderSize, got)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid, err := Encode(Heartbeat, "n", nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	oversized := append([]byte(nil), valid...)
	binary.BigEndian.PutUint32(oversized[4:8], uint32(len(valid)))

	hostile := append([]byte(nil), valid...)
	binary.BigEndian.PutUint32(hostile[4:8], 0xFFFFFFFF)

	garbled := make([]byte, HeaderSize+5)
	binary.BigEndian.PutUint32(garbled[4:8], 5)
	copy(garbled[HeaderSize:], "{nope")

	notObject := make([]byte, HeaderSize+2)
	binary.BigEndian.PutUint32(notObject[4:8], 2)
	copy(notObject[HeaderSize:], "[]")

	null := make([]byte, HeaderSize+4)
	binary.BigEndian.PutUint32(null[4:8], 4)
	copy(null[HeaderSize:], "null")

	cases := []struct {
		name string
		buf  []byte
		want error
	}{
		{"nil", nil, ErrShortBuffer},
		{"eleven bytes", make([]byte, 11), ErrShortBuffer},
		{"oversized claim", oversized, ErrTruncatedPayload},
		{"max uint32 claim", hostile, ErrTruncatedPayload},
		{"truncated", valid[:len(valid)-1], ErrTruncatedPayload},
		{"garbled json", garbled, ErrInvalidPayload},
		{"json array", notObject, ErrInvalidPayload},
		{"json null", null, ErrInvalidPayload},
		{"empty payload", make([]byte, HeaderSize), ErrInvalidPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.buf)
			if !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeDefaultsSender(t *testing.T) {
	body := []byte(`{"lesson":"x","sender":42}`)
	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(LessonLearned))
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[HeaderSize:], body)

	sig, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if sig.Sender != "unknown" {
		t.Errorf("Expected sender 'unknown', got %q", sig.Sender)
	}
	if sig.Name != "LESSON_LEARNED" {
		t.Errorf("Expected name LESSON_LEARNED, got %s", sig.Name)
	}
}

func rawFrame(code Code, body string) []byte {
	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(code))
	binary.BigEndian.PutUint16(frame[2:4], ProtocolVersion)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame
}

func TestEncodeRejectsReservedKey(t *testing.T) {
	payloads := []map[string]any{
		{"metadata": map[string]any{"author": "alice"}, "x": "y"},
		{"metadata": map[string]any{"signal_id": "a", "hop_count": float64(5), "timestamp": float64(1)}},
		{"metadata": "plain"},
	}
	for _, p := range payloads {
		if _, err := Encode(LessonLearned, "n", p); !errors.Is(err, ErrReservedKey) {
			t.Errorf("Encode(%v): expected ErrReservedKey, got %v", p, err)
		}
	}

	sig := NewSignal(LessonLearned, "n", map[string]any{"metadata": "plain"}, time.Now())
	sig.Metadata = NewMetadata("n", time.Now())
	if _, err := EncodeSignal(sig); !errors.Is(err, ErrReservedKey) {
		t.Errorf("EncodeSignal with metadata on both sides: expected ErrReservedKey, got %v", err)
	}
}

func TestDecodeKeepsForeignMetadataInPayload(t *testing.T) {
	sig, err := Decode(rawFrame(LessonLearned, `{"sender":"a","x":"y","metadata":{"author":"alice"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if sig.Metadata != nil {
		t.Errorf("Expected legacy signal, got metadata %+v", sig.Metadata)
	}
	want := map[string]any{"x": "y", "metadata": map[string]any{"author": "alice"}}
	if diff := cmp.Diff(want, sig.Payload); diff != "" {
		t.Errorf("Payload mismatch (-want +got):\n%s", diff)
	}

	// A legacy signal carrying such a value forwards unchanged.
	frame, err := EncodeSignal(sig)
	if err != nil {
		t.Fatalf("EncodeSignal failed: %v", err)
	}
	again, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(want, again.Payload); diff != "" {
		t.Errorf("Forwarded payload mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsMalformedMetadata(t *testing.T) {
	bodies := map[string]string{
		"negative hops":   `{"sender":"a","metadata":{"signal_id":"s1","hop_count":-1,"timestamp":1}}`,
		"fractional hops": `{"sender":"a","metadata":{"signal_id":"s1","hop_count":1.5,"timestamp":1}}`,
		"string hops":     `{"sender":"a","metadata":{"signal_id":"s1","hop_count":"0","timestamp":1}}`,
		"missing stamp":   `{"sender":"a","metadata":{"signal_id":"s1","hop_count":0}}`,
		"empty id":        `{"sender":"a","metadata":{"signal_id":"","hop_count":0,"timestamp":1}}`,
		"numeric id":      `{"sender":"a","metadata":{"signal_id":7,"hop_count":0,"timestamp":1}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(rawFrame(Heartbeat, body))
			if !errors.Is(err, ErrInvalidMetadata) {
				t.Errorf("Expected ErrInvalidMetadata, got %v", err)
			}
		})
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	big := make([]byte, MaxDatagramSize)
	for i := range big {
		big[i] = 'a'
	}
	_, err := Encode(DecisionPending, "n", map[string]any{"decision_text": string(big)})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeRejectsUnserializable(t *testing.T) {
	_, err := Encode(DecisionPending, "n", map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Error("Expected marshal error for channel value")
	}
}

func TestSignalName(t *testing.T) {
	if got := SignalName(DecisionPending); got != "DECISION_PENDING" {
		t.Errorf("Expected DECISION_PENDING, got %s", got)
	}
	if got := SignalName(Code(0xBEEF)); got != "UNKNOWN_0xBEEF" {
		t.Errorf("Expected UNKNOWN_0xBEEF, got %s", got)
	}
	if IsKnownSignal(Code(0xBEEF)) {
		t.Error("0xBEEF should not be known")
	}
	if !IsKnownSignal(RemediationNeeded) {
		t.Error("REMEDIATION_NEEDED should be known")
	}
	if n := len(KnownSignalNames()); n != 9 {
		t.Errorf("Expected 9 known names, got %d", n)
	}
}
