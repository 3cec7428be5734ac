package arrow

import (
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/tenet-mesh/network"
	"github.com/VanDung-dev/tenet-mesh/protocol"
)

// DefaultJournalCapacity is the number of entries kept when none is given.
const DefaultJournalCapacity = 4096

// Entry is one journaled admission decision.
type Entry struct {
	At             time.Time
	Direction      network.Direction
	Code           protocol.Code
	Name           string
	Sender         string
	SignalID       string
	OriginServer   string
	HopCount       int
	ParentSignalID string
	HasMetadata    bool
	Accepted       bool
	Reason         string
	FrameSize      int
}

// Journal is a bounded ring of admission decisions. It implements network.Tap.
type Journal struct {
	allocator memory.Allocator
	schema    *arrow.Schema

	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	total   uint64
}

// NewJournal creates a journal holding at most capacity entries.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}
	return &Journal{
		allocator: memory.DefaultAllocator,
		schema:    JournalSchema(),
		entries:   make([]Entry, capacity),
	}
}

// Observe records e, overwriting the oldest entry when full.
func (j *Journal) Observe(e network.Event) {
	entry := Entry{
		At:        e.At,
		Direction: e.Direction,
		Code:      e.Signal.Code,
		Name:      e.Signal.Name,
		Sender:    e.Signal.Sender,
		Accepted:  e.Verdict.Accepted,
		Reason:    string(e.Verdict.Reason),
		FrameSize: len(e.Frame),
	}
	if md := e.Signal.Metadata; md != nil {
		entry.HasMetadata = true
		entry.SignalID = md.SignalID
		entry.OriginServer = md.OriginServer
		entry.HopCount = md.HopCount
		entry.ParentSignalID = md.ParentSignalID
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[j.next] = entry
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
	j.total++
}

// Entries returns the retained entries, oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.full {
		return append([]Entry(nil), j.entries[:j.next]...)
	}
	out := make([]Entry, 0, len(j.entries))
	out = append(out, j.entries[j.next:]...)
	return append(out, j.entries[:j.next]...)
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.full {
		return len(j.entries)
	}
	return j.next
}

// Total returns how many decisions were ever observed.
func (j *Journal) Total() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.total
}

// Record builds an Arrow record of the retained entries, oldest first. The
// caller must Release it.
func (j *Journal) Record() arrow.Record {
	entries := j.Entries()

	builder := array.NewRecordBuilder(j.allocator, j.schema)
	defer builder.Release()

	atBuilder := builder.Field(0).(*array.TimestampBuilder)
	directionBuilder := builder.Field(1).(*array.StringBuilder)
	codeBuilder := builder.Field(2).(*array.Uint16Builder)
	nameBuilder := builder.Field(3).(*array.StringBuilder)
	senderBuilder := builder.Field(4).(*array.StringBuilder)
	signalIDBuilder := builder.Field(5).(*array.StringBuilder)
	originBuilder := builder.Field(6).(*array.StringBuilder)
	hopBuilder := builder.Field(7).(*array.Int32Builder)
	parentBuilder := builder.Field(8).(*array.StringBuilder)
	acceptedBuilder := builder.Field(9).(*array.BooleanBuilder)
	reasonBuilder := builder.Field(10).(*array.StringBuilder)
	sizeBuilder := builder.Field(11).(*array.Int32Builder)

	for _, e := range entries {
		atBuilder.Append(arrow.Timestamp(e.At.UnixMilli()))
		directionBuilder.Append(string(e.Direction))
		codeBuilder.Append(uint16(e.Code))
		nameBuilder.Append(e.Name)
		senderBuilder.Append(e.Sender)

		if e.HasMetadata {
			signalIDBuilder.Append(e.SignalID)
			originBuilder.Append(e.OriginServer)
			hopBuilder.Append(int32(e.HopCount))
			appendOptional(parentBuilder, e.ParentSignalID)
		} else {
			signalIDBuilder.AppendNull()
			originBuilder.AppendNull()
			hopBuilder.AppendNull()
			parentBuilder.AppendNull()
		}

		acceptedBuilder.Append(e.Accepted)
		appendOptional(reasonBuilder, e.Reason)
		sizeBuilder.Append(int32(e.FrameSize))
	}

	return builder.NewRecord()
}

// ExportIPC serializes the retained entries as an IPC stream.
func (j *Journal) ExportIPC() ([]byte, error) {
	record := j.Record()
	defer record.Release()

	data, err := EncodeIPC(record)
	if err != nil {
		return nil, fmt.Errorf("failed to export journal: %w", err)
	}
	return data, nil
}

func appendOptional(b *array.StringBuilder, s string) {
	if s == "" {
		b.AppendNull()
		return
	}
	b.Append(s)
}

var _ network.Tap = (*Journal)(nil)
