package eventlog

import (
	"fmt"
	"time"
)

// EventType classifies a tick.
type EventType string

const (
	Send     EventType = "send"
	Receive  EventType = "receive"
	Internal EventType = "internal"
)

// ParseEventType validates s.
func ParseEventType(s string) (EventType, error) {
	switch e := EventType(s); e {
	case Send, Receive, Internal:
		return e, nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// Entry is one logged tick. QueueLen is measured after the tick's pop, if any.
type Entry struct {
	Clock     int64
	WallClock time.Time
	Event     EventType
	QueueLen  int
}

// Identity keys a log store.
type Identity struct {
	ProcessID string
	ClockRate int
}

func (id Identity) String() string {
	return fmt.Sprintf("pid_%s_clockrate_%d", id.ProcessID, id.ClockRate)
}

// Sink is an append-only destination for a node's entries.
type Sink interface {
	// Append durably adds one entry.
	Append(entry Entry) error
	// Close releases the sink.
	Close() error
}

// Header is the first row of every CSV log.
var Header = []string{"logical clock", "global time", "event type", "queue length"}
