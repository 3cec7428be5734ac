package protocol

import (
	"testing"
)

// FuzzDecode feeds arbitrary datagrams to the decoder.
// Run with: go test -fuzz=FuzzDecode -fuzztime=30s ./protocol/
func FuzzDecode(f *testing.F) {
	valid, _ := Encode(DecisionPending, "seed", map[string]any{"decision_text": "hello"})
	f.Add(valid)
	f.Add([]byte{})
	f.Add(make([]byte, HeaderSize))
	f.Add([]byte{0x01, 0x01, 0x01, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, '{', '}'})
	f.Add(append(make([]byte, HeaderSize), []byte(`{"metadata":"x"}`)...))
	f.Add(rawFrame(Heartbeat, `{"metadata":{"signal_id":"s","hop_count":-1,"timestamp":1}}`))
	f.Add(rawFrame(Heartbeat, `{"metadata":{"author":"alice"}}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		sig, err := Decode(data)
		if err != nil {
			return
		}
		if sig.Sender == "" && sig.Payload == nil {
			t.Fatalf("decoded signal without payload: %+v", sig)
		}
		// Anything that decodes must re-encode.
		if _, err := EncodeSignal(sig); err != nil && len(data) < MaxDatagramSize/8 {
			t.Fatalf("re-encode failed: %v", err)
		}
	})
}
