package gateway

import (
	"encoding/json"
	"fmt"
)

// Event names exchanged with subscribers
const (
	EventInitialData         = "initial-data"
	EventTransaction         = "bitcoin-transaction"
	EventBlock               = "bitcoin-block"
	EventFilteredData        = "filtered-data"
	EventRequestFilteredData = "request-filtered-data"
	EventError               = "error"
)

// Message is the envelope of every websocket message in both directions
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type errorData struct {
	Message string `json:"message"`
}

// encode serializes an outbound event once for every recipient
func encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return json.Marshal(Message{Event: event, Data: payload})
}
