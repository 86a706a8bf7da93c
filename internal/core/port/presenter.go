package port

import "github.com/Wyydra/yacall/internal/core/domain"

// Presenter is called from the call service's event loop and must not call
// back into the service synchronously.
type Presenter interface {
	Render(view domain.View)
	OnRemoteStream(stream RemoteStream)
}
