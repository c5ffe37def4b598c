package jobs

import "time"

// EventType identifies the kind of a progress Event.
type EventType string

const (
	EventStatus    EventType = "status"
	EventProgress  EventType = "progress"
	EventHeartbeat EventType = "heartbeat"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

// Event is one message delivered to a job subscriber.
type Event struct {
	Type       EventType `json:"type"`
	Message    string    `json:"message,omitempty"`
	Percent    float64   `json:"percent"`
	ETASeconds *float64  `json:"eta,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	SizeBytes  uint64    `json:"sizeBytes,omitempty"`
}

// Terminal reports whether e ends the event sequence.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func etaSeconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}
