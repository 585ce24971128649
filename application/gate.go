package application

import "sync"

// WaitForTermination is a one-shot latch that application main logic blocks
// on until termination is requested. Once released it stays released.
//
// The zero value is ready to use.
type WaitForTermination struct {
	initOnce    sync.Once
	releaseOnce sync.Once
	ch          chan struct{}
}

// NewWaitForTermination returns an unreleased latch.
func NewWaitForTermination() *WaitForTermination {
	w := &WaitForTermination{}
	w.init()
	return w
}

func (w *WaitForTermination) init() {
	w.initOnce.Do(func() { w.ch = make(chan struct{}) })
}

// Wait blocks until [WaitForTermination.Proceed] has been called. It returns
// immediately if that already happened.
func (w *WaitForTermination) Wait() {
	<-w.Done()
}

// Proceed releases every current and future waiter. Further calls are
// no-ops.
func (w *WaitForTermination) Proceed() {
	w.init()
	w.releaseOnce.Do(func() { close(w.ch) })
}

// Done returns a channel that is closed once the latch is released, for use
// in a select alongside a timer or other events.
func (w *WaitForTermination) Done() <-chan struct{} {
	w.init()
	return w.ch
}

// Released reports whether Proceed has been called.
func (w *WaitForTermination) Released() bool {
	select {
	case <-w.Done():
		return true
	default:
		return false
	}
}
