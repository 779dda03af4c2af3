// Package ws is the websocket transport: connection lifecycle, the
// client-facing event protocol, and the inbound handler table.
package ws

import "encoding/json"

// Message is the wire envelope in both directions: a named event with an
// optional JSON payload.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeMessage builds the outbound wire bytes for an event.
func encodeMessage(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Message{Event: event, Data: data})
}
