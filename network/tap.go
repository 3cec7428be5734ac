package network

import (
	"time"

	"github.com/VanDung-dev/tenet-mesh/protocol"
	"github.com/VanDung-dev/tenet-mesh/tumbler"
)

// Direction tells whether a signal was received or emitted.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Event is one admission decision. Frame is the encoded datagram; it is nil
// for outbound signals rejected before encoding.
type Event struct {
	Direction Direction
	Signal    protocol.Signal
	Verdict   tumbler.Verdict
	Frame     []byte
	At        time.Time
}

// Tap observes admission decisions. Observe runs on the mesh's send or
// receive path and must not block.
type Tap interface {
	Observe(e Event)
}

// TapFunc adapts a function to Tap.
type TapFunc func(e Event)

// Observe calls f.
func (f TapFunc) Observe(e Event) {
	f(e)
}
