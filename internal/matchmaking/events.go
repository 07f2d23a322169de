package matchmaking

import "encoding/json"

// The backend reports search outcomes asynchronously by posting an Event to
// the callback endpoint.

type EventType string

const (
	EventMatchFound    EventType = "match_found"
	EventMatchFailed   EventType = "match_failed"
	EventMatchTimedOut EventType = "match_timed_out"
	EventCancelled     EventType = "cancelled"
)

type Event struct {
	TicketID string    `json:"ticket_id"`
	Type     EventType `json:"type"`
	// Match carries backend-defined connection details on success and is
	// forwarded to clients untouched.
	Match json.RawMessage `json:"match,omitempty"`
}

func (e Event) Succeeded() bool { return e.Type == EventMatchFound }

func (e Event) Valid() bool {
	switch e.Type {
	case EventMatchFound, EventMatchFailed, EventMatchTimedOut, EventCancelled:
		return e.TicketID != ""
	default:
		return false
	}
}
