package wire

import (
	"errors"
	"fmt"
)

// ErrDecode is returned for any frame that is not a well-formed Data or
// Shutdown message. It is a protocol violation and is never recovered from.
var ErrDecode = errors.New("wire: decode error")

// Kind tags a Message.
type Kind int

const (
	// Data carries a logical clock value.
	Data Kind = iota + 1
	// Shutdown tells the receiver the peer will send nothing more.
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is the unit exchanged on a link.
type Message struct {
	Kind  Kind
	Value int64 // only meaningful for Data
}

// DataMessage builds a Data message carrying v.
func DataMessage(v int64) Message {
	return Message{Kind: Data, Value: v}
}

// ShutdownMessage builds the shutdown marker.
func ShutdownMessage() Message {
	return Message{Kind: Shutdown}
}

func (m Message) String() string {
	if m.Kind == Data {
		return fmt.Sprintf("data(%d)", m.Value)
	}
	return m.Kind.String()
}
