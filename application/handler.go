package application

import (
	"log/slog"

	"tools.zach/dev/appcore/aspect"
)

// ///////////////////////////////////////////////
// Callbacks
// ///////////////////////////////////////////////

// Callback is the signature of every lifecycle callback. The return value
// answers "go ahead?": a termination callback returning false vetoes the
// stop, a pause callback returning false ignores the pause.
type Callback func() bool

// Handler holds a primary callback and an optional secondary one. When the
// secondary is set the handler is toggle-style: a binder alternates between
// the two (pause, then resume, then pause...).
type Handler struct {
	callback  Callback
	secondary Callback
}

// NewHandler returns a Handler with a single callback.
func NewHandler(cb Callback) Handler {
	return Handler{callback: cb}
}

// NewToggleHandler returns a Handler that alternates between primary and
// secondary.
func NewToggleHandler(primary, secondary Callback) Handler {
	return Handler{callback: primary, secondary: secondary}
}

// Callback returns the primary callback.
func (h Handler) Callback() Callback { return h.callback }

// Secondary returns the secondary callback, or nil.
func (h Handler) Secondary() Callback { return h.secondary }

// Invoke runs the primary callback. A nil callback counts as "go ahead".
func (h Handler) Invoke() bool {
	if h.callback == nil {
		return true
	}
	return h.callback()
}

// ///////////////////////////////////////////////
// Lifecycle Handler Aspects
// ///////////////////////////////////////////////

// TerminationHandler is the aspect consulted when termination is requested.
type TerminationHandler struct {
	Handler
	// Default makes the library act on a true result: Status becomes
	// Stopped and the WaitForTermination latch is released.
	Default bool
}

// NewTerminationHandler wraps cb. The library only invokes it; releasing
// the termination latch is up to cb.
func NewTerminationHandler(cb Callback) *TerminationHandler {
	return &TerminationHandler{Handler: NewHandler(cb)}
}

// NewTerminationHandlerDefault wraps cb with the default behaviour: when cb
// returns true the application is stopped.
func NewTerminationHandlerDefault(cb Callback) *TerminationHandler {
	return &TerminationHandler{Handler: NewHandler(cb), Default: true}
}

// PauseHandler is the aspect consulted when a pause is requested.
type PauseHandler struct {
	Handler
	// Default makes the library set Status to Paused on a true result.
	Default bool
}

// NewPauseHandler wraps cb without default behaviour.
func NewPauseHandler(cb Callback) *PauseHandler {
	return &PauseHandler{Handler: NewHandler(cb)}
}

// NewPauseHandlerDefault wraps cb with the default behaviour.
func NewPauseHandlerDefault(cb Callback) *PauseHandler {
	return &PauseHandler{Handler: NewHandler(cb), Default: true}
}

// ResumeHandler is the aspect consulted when a resume is requested.
type ResumeHandler struct {
	Handler
	// Default makes the library set Status to Running on a true result.
	Default bool
}

// NewResumeHandler wraps cb without default behaviour.
func NewResumeHandler(cb Callback) *ResumeHandler {
	return &ResumeHandler{Handler: NewHandler(cb)}
}

// NewResumeHandlerDefault wraps cb with the default behaviour.
func NewResumeHandlerDefault(cb Callback) *ResumeHandler {
	return &ResumeHandler{Handler: NewHandler(cb), Default: true}
}

// allow is the library's default callback: always go ahead.
func allow() bool { return true }

// ///////////////////////////////////////////////
// Auto Handlers
// ///////////////////////////////////////////////

// Stopper is implemented by applications that want a say in termination.
type Stopper interface {
	Stop() bool
}

// Pauser is implemented by applications that support pausing.
type Pauser interface {
	Pause() bool
}

// Resumer is implemented by applications that support resuming.
type Resumer interface {
	Resume() bool
}

// InstallHandlers inserts default-behaviour handlers for each of [Stopper],
// [Pauser] and [Resumer] that app implements. Handlers already present in
// cx are kept.
func InstallHandlers(cx *Context, app any) {
	if s, ok := app.(Stopper); ok {
		aspect.Insert(cx, NewTerminationHandlerDefault(s.Stop))
	}
	if p, ok := app.(Pauser); ok {
		aspect.Insert(cx, NewPauseHandlerDefault(p.Pause))
	}
	if r, ok := app.(Resumer); ok {
		aspect.Insert(cx, NewResumeHandlerDefault(r.Resume))
	}
}

// ///////////////////////////////////////////////
// Dispatch Targets
// ///////////////////////////////////////////////

// The functions below are what the driver binds to platform signals, and
// what applications bind to their own identifiers for the same actions.
// They look the handler up at dispatch time, so a handler swapped in with
// aspect.Exchange after launch takes effect on the next notification.

// RequestTermination runs the termination handler of cx.
func RequestTermination(cx *Context) bool {
	h, ok := aspect.Find[*TerminationHandler](cx)
	if !ok {
		h = NewTerminationHandlerDefault(allow)
	}
	if !h.Invoke() {
		slog.Info("termination request declined by handler")
		return false
	}
	if !h.Default {
		return true
	}
	if st, ok := aspect.Find[*Status](cx); ok {
		st.Set(Stopped)
	}
	if gate, ok := aspect.Find[*WaitForTermination](cx); ok {
		gate.Proceed()
	}
	slog.Info("termination requested")
	return true
}

// RequestPause runs the pause handler of cx.
func RequestPause(cx *Context) bool {
	h, ok := aspect.Find[*PauseHandler](cx)
	if !ok {
		h = NewPauseHandlerDefault(allow)
	}
	if !h.Invoke() {
		return false
	}
	if h.Default {
		if st, ok := aspect.Find[*Status](cx); ok && st.Transition(Running, Paused) {
			slog.Info("application paused")
		}
	}
	return true
}

// RequestResume runs the resume handler of cx.
func RequestResume(cx *Context) bool {
	h, ok := aspect.Find[*ResumeHandler](cx)
	if !ok {
		h = NewResumeHandlerDefault(allow)
	}
	if !h.Invoke() {
		return false
	}
	if h.Default {
		if st, ok := aspect.Find[*Status](cx); ok && st.Transition(Paused, Running) {
			slog.Info("application resumed")
		}
	}
	return true
}
