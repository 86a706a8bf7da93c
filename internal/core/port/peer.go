package port

import "github.com/Wyydra/yacall/internal/core/domain"

// PeerOptions configures one peer-connection instance. Callbacks fire
// asynchronously from the library's own goroutines.
type PeerOptions struct {
	Initiator bool
	Stream    MediaStream
	OnSignal  func(payload domain.NegotiationPayload)
	OnStream  func(stream RemoteStream)
	OnFailure func(err error)
}

type PeerFactory interface {
	NewPeer(opts PeerOptions) (Peer, error)
}

// Peer is exclusively owned by one call session and must be destroyed on
// every path back to idle.
type Peer interface {
	Signal(payload domain.NegotiationPayload) error
	Destroy() error
}
