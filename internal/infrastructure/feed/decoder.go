package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"bitcoin-tx-monitor/internal/domain/entity"
)

// Upstream operation names
const (
	OpTransaction = "utx"
	OpBlock       = "block"
)

// ErrEmptyFrame is returned for frames without an operation
var ErrEmptyFrame = errors.New("frame has no op")

// Envelope is the wire shape of every upstream frame
type Envelope struct {
	Op string          `json:"op"`
	X  json.RawMessage `json:"x,omitempty"`
}

// Frame is a decoded upstream frame. Only the field matching Op is set;
// frames with other ops carry neither.
type Frame struct {
	Op          string
	Transaction *entity.RawTransaction
	Block       *entity.Block
}

// Decode parses a raw upstream frame
func Decode(data []byte) (*Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Op == "" {
		return nil, ErrEmptyFrame
	}

	frame := &Frame{Op: env.Op}
	switch env.Op {
	case OpTransaction:
		var tx entity.RawTransaction
		if err := unmarshalPayload(env.X, &tx); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		frame.Transaction = &tx
	case OpBlock:
		var block entity.Block
		if err := unmarshalPayload(env.X, &block); err != nil {
			return nil, fmt.Errorf("failed to decode block: %w", err)
		}
		frame.Block = &block
	}

	return frame, nil
}

// Encode builds a raw frame for op with payload x
func Encode(op string, x any) ([]byte, error) {
	env := Envelope{Op: op}
	if x != nil {
		payload, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		env.X = payload
	}
	return json.Marshal(env)
}

func unmarshalPayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return errors.New("missing payload")
	}
	return json.Unmarshal(payload, v)
}
