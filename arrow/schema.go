package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// JournalSchema returns the Arrow schema for journal entries.
//
// Fields:
//   - at: timestamp[ms] - When the decision was made
//   - direction: string - "inbound" or "outbound"
//   - code: uint16 - Signal type code
//   - name: string - Signal name
//   - sender: string - Sender node name
//   - signal_id: string (nullable) - Absent for legacy signals
//   - origin_server: string (nullable)
//   - hop_count: int32 (nullable)
//   - parent_signal_id: string (nullable)
//   - accepted: bool - Admission verdict
//   - reason: string (nullable) - Rejection reason
//   - frame_size: int32 - Encoded size in bytes, 0 when never encoded
func JournalSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "at", Type: arrow.FixedWidthTypes.Timestamp_ms},
			{Name: "direction", Type: arrow.BinaryTypes.String},
			{Name: "code", Type: arrow.PrimitiveTypes.Uint16},
			{Name: "name", Type: arrow.BinaryTypes.String},
			{Name: "sender", Type: arrow.BinaryTypes.String},
			{Name: "signal_id", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "origin_server", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "hop_count", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			{Name: "parent_signal_id", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "accepted", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "reason", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "frame_size", Type: arrow.PrimitiveTypes.Int32},
		},
		nil,
	)
}
