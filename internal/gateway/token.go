package gateway

import "sync/atomic"

// CancelToken is a cooperative cancellation flag shared by the caller of a
// long-running operation and the operation itself. Cancelling does not abort
// in-flight requests; it only tells whoever checks the token to discard the result.
// A nil token is never cancelled.
type CancelToken struct {
	cancelled atomic.Bool
}

func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

func (t *CancelToken) Cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
