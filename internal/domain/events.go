package domain

import "time"

// EventType tags entries on the engine's global event stream.
type EventType string

const (
	EventQuoteReceived   EventType = "quote_received"
	EventRFQFilled       EventType = "rfq_filled"
	EventRFQCancelled    EventType = "rfq_cancelled"
	EventRFQExpired      EventType = "rfq_expired"
	EventConnectionError EventType = "connection_error"
)

// Event is one tagged entry on the global event stream. Quote and Fill are
// populated for the event types that carry them; Detail holds a free-form
// message (connection errors, rejection reasons).
type Event struct {
	Type   EventType `json:"type"`
	RFQID  string    `json:"rfq_id,omitempty"`
	Quote  *Quote    `json:"quote,omitempty"`
	Fill   *Fill     `json:"fill,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}
