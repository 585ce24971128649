package application

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tools.zach/dev/appcore/aspect"
)

// MainFunc is the application's main logic. Its result becomes the result
// of [Launch].
type MainFunc func() int

// Model selects how [Launch] runs the main function.
type Model int

const (
	// Interactive starts the signal binder and runs main on the calling
	// goroutine.
	Interactive Model = iota
	// Background runs main under the platform service manager when there
	// is one and the process was started by it. Everywhere else it behaves
	// like Interactive.
	Background
)

func (m Model) String() string {
	switch m {
	case Interactive:
		return "interactive"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

// ParseModel maps "interactive" or "background" to a Model.
func ParseModel(s string) (Model, error) {
	switch s {
	case "interactive", "":
		return Interactive, nil
	case "background":
		return Background, nil
	default:
		return Interactive, fmt.Errorf("unknown launch model %q", s)
	}
}

// ///////////////////////////////////////////////
// Options
// ///////////////////////////////////////////////

type launchOptions struct {
	binder      *SignalBinder
	serviceName string
	app         any
}

// Option configures [Launch].
type Option func(*launchOptions)

// WithSignalBinder makes Launch use b instead of creating its own binder.
// Bindings already made on b are kept; the defaults are only added for
// identifiers b leaves unbound. If b is already running, Launch leaves it
// running on return.
func WithSignalBinder(b *SignalBinder) Option {
	return func(o *launchOptions) { o.binder = b }
}

// WithServiceName sets the name registered with the service manager.
func WithServiceName(name string) Option {
	return func(o *launchOptions) { o.serviceName = name }
}

// WithApplication installs lifecycle handlers for app with
// [InstallHandlers] before the library defaults are added.
func WithApplication(app any) Option {
	return func(o *launchOptions) { o.app = app }
}

// ///////////////////////////////////////////////
// Launch
// ///////////////////////////////////////////////

// Launch prepares cx, starts the signal binder and runs main according to
// model. It returns main's result.
//
// Before main runs, cx receives a [WaitForTermination] latch (a fresh one
// when the latch from an earlier launch was already released), a [Status]
// set to Running, the binder itself, and default termination, pause and
// resume handlers for whichever of those cx does not already hold. The
// platform's termination, pause and resume notifications are then bound to
// those handlers unless the binder already has bindings for them.
//
// If setup fails main never runs, whatever setup added to cx and the binder
// is removed again, and Launch returns a non-zero code with an error
// wrapping [ErrSetupFailure].
func Launch(model Model, main MainFunc, cx *Context, opts ...Option) (int, error) {
	o := launchOptions{serviceName: defaultServiceName()}
	for _, opt := range opts {
		opt(&o)
	}

	if main == nil || cx == nil {
		return 1, fmt.Errorf("%w: nil main function or context", ErrSetupFailure)
	}
	b := o.binder
	if b == nil {
		b = NewSignalBinder(cx)
	} else if b.Context() != cx {
		return 1, fmt.Errorf("%w: signal binder belongs to a different context", ErrSetupFailure)
	}

	service := model == Background && underServiceManager()
	undo, err := prepare(cx, b, o.app, signalSetFor(service))
	if err != nil {
		return 1, fmt.Errorf("%w: %w", ErrSetupFailure, err)
	}

	startedHere := !b.Running()
	if err := b.Start(); err != nil {
		undo()
		return 1, fmt.Errorf("%w: %w", ErrSetupFailure, err)
	}
	if startedHere {
		defer func() {
			if err := b.Stop(); err != nil {
				slog.Warn("failed to stop signal binder", "error", err)
			}
		}()
	}

	slog.Info("application launched", "model", model, "service", service, "pid", os.Getpid())

	var code int
	if service {
		var err error
		code, err = runService(o.serviceName, main, cx, b)
		if err != nil {
			return code, err
		}
	} else {
		code = main()
	}

	if st, ok := aspect.Find[*Status](cx); ok {
		st.Set(Stopped)
	}
	slog.Info("application finished", "code", code)
	return code, nil
}

// MustLaunch is like [Launch] but panics on setup failure.
func MustLaunch(model Model, main MainFunc, cx *Context, opts ...Option) int {
	code, err := Launch(model, main, cx, opts...)
	if err != nil {
		panic(err)
	}
	return code
}

// LaunchGlobal creates the global context, launches main with it and
// destroys it again. main reaches the context through [Global]. It fails
// with [ErrSetupFailure] wrapping [ErrAlreadyExists] when a global context
// is already active.
func LaunchGlobal(model Model, main MainFunc, opts ...Option) (int, error) {
	cx, err := CreateGlobal()
	if err != nil {
		return 1, fmt.Errorf("%w: %w", ErrSetupFailure, err)
	}
	defer func() {
		if err := DestroyGlobal(); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("failed to destroy global context", "error", err)
		}
	}()
	return Launch(model, main, cx, opts...)
}

// signalSet is the platform notifications the driver binds by default.
type signalSet struct {
	term, pauses, resumes []os.Signal
}

func signalSetFor(service bool) signalSet {
	term, pauses, resumes := defaultSignals(service)
	return signalSet{term: term, pauses: pauses, resumes: resumes}
}

// prepare inserts the aspects the driver relies on and binds the default
// notifications. On failure everything it added to cx and b is removed
// again; on success it returns the function that does so, for a failure
// later in setup.
//
// A gate left released by an earlier launch of cx is replaced, so main
// always waits on a fresh one.
func prepare(cx *Context, b *SignalBinder, app any, sigs signalSet) (func(), error) {
	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	if app != nil {
		undo = append(undo, keepHandlers(cx))
		InstallHandlers(cx, app)
	}

	if gate, ok := aspect.Find[*WaitForTermination](cx); !ok || gate.Released() {
		prev, existed := aspect.Exchange(cx, NewWaitForTermination())
		undo = append(undo, restoreFunc(cx, prev, existed))
	}
	if st, existed := aspect.Insert(cx, NewStatus(Running)); existed {
		was := st.State()
		st.Set(Running)
		undo = append(undo, func() { st.Set(was) })
	} else {
		undo = append(undo, func() { aspect.Erase[*Status](cx) })
	}
	prevBinder, hadBinder := aspect.Exchange(cx, b)
	undo = append(undo, restoreFunc(cx, prevBinder, hadBinder))
	undo = append(undo, keepHandlers(cx))
	aspect.Insert(cx, NewTerminationHandlerDefault(allow))
	aspect.Insert(cx, NewPauseHandlerDefault(allow))
	aspect.Insert(cx, NewResumeHandlerDefault(allow))

	groups := []struct {
		ids []os.Signal
		cb  Callback
	}{
		{sigs.term, func() bool { return RequestTermination(cx) }},
		{sigs.pauses, func() bool { return RequestPause(cx) }},
		{sigs.resumes, func() bool { return RequestResume(cx) }},
	}
	for _, g := range groups {
		for _, id := range g.ids {
			if b.IsBound(id) {
				continue
			}
			if err := b.Bind(id, g.cb); err != nil {
				rollback()
				return nil, fmt.Errorf("bind default %v: %w", id, err)
			}
			undo = append(undo, func() { _ = b.Unbind(id) })
		}
	}
	return rollback, nil
}

// restoreFunc returns a function that puts prev back into cx, or erases the
// aspect when there was none.
func restoreFunc[T any](cx *Context, prev T, existed bool) func() {
	return func() {
		if existed {
			aspect.Exchange(cx, prev)
		} else {
			aspect.Erase[T](cx)
		}
	}
}

// keepHandlers snapshots which handler aspects cx holds and returns a
// function that erases any added since.
func keepHandlers(cx *Context) func() {
	hasTerm := aspect.Count[*TerminationHandler](cx) > 0
	hasPause := aspect.Count[*PauseHandler](cx) > 0
	hasResume := aspect.Count[*ResumeHandler](cx) > 0
	return func() {
		if !hasTerm {
			aspect.Erase[*TerminationHandler](cx)
		}
		if !hasPause {
			aspect.Erase[*PauseHandler](cx)
		}
		if !hasResume {
			aspect.Erase[*ResumeHandler](cx)
		}
	}
}

// defaultServiceName is the executable's base name without extension.
func defaultServiceName() string {
	exe, err := os.Executable()
	if err != nil {
		return "app"
	}
	base := filepath.Base(exe)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
