package feed

import (
	"context"
)

// Stream is one open upstream session delivering raw frames
type Stream interface {
	// Next blocks until the next frame arrives or the session ends
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Source opens upstream sessions. Open returns once the subscription
// handshake has been sent.
type Source interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}
