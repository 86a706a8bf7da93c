package port

import "context"

// MediaStream is the local camera/microphone stream. It is acquired once and
// read-shared by every call session.
type MediaStream interface {
	ID() string
}

type RemoteStream interface {
	ID() string
	Kind() string
}

type MediaSource interface {
	// Acquire blocks until the platform grants access.
	Acquire(ctx context.Context) (MediaStream, error)
}
