package application

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"tools.zach/dev/appcore/selfpipe"
)

// ///////////////////////////////////////////////
// Bindings
// ///////////////////////////////////////////////

// binding associates one identifier with its callbacks. For toggle bindings
// next selects which callback runs on the next notification.
type binding struct {
	primary   Callback
	secondary Callback
	next      bool // true: run secondary next
	// ignored records that the OS disposition was "ignore" before the
	// binding was installed, so Unbind can restore it.
	ignored bool
}

// ///////////////////////////////////////////////
// SignalBinder
// ///////////////////////////////////////////////

// SignalBinder maps signal and event identifiers to callbacks and runs the
// dispatch loop that invokes them.
//
// Notifications travel in two halves. The producer half, reached from the
// OS signal path or from [SignalBinder.Raise], only marks the identifier
// pending in a fixed table and pokes a [selfpipe.Pipe]. The dispatch
// goroutine wakes on the pipe, collects every pending identifier, and runs
// the bound callbacks on its own stack. Several notifications for the same
// identifier that arrive before a wake collapse into one callback run.
type SignalBinder struct {
	cx *Context

	// mu guards bindings and sigCh.
	mu       sync.Mutex
	bindings map[os.Signal]*binding
	sigCh    chan os.Signal

	// pipe is the live wake-up channel while running, nil before the first
	// Start.
	pipe    atomic.Pointer[selfpipe.Pipe]
	running atomic.Bool
	pending [slotCount]atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSignalBinder returns a stopped binder for cx.
func NewSignalBinder(cx *Context) *SignalBinder {
	return &SignalBinder{
		cx:       cx,
		bindings: make(map[os.Signal]*binding),
	}
}

// Context returns the context the binder was created for.
func (b *SignalBinder) Context() *Context {
	return b.cx
}

// Bind associates id with cb, replacing any existing binding. Bindings made
// before [SignalBinder.Start] are installed when the binder starts.
func (b *SignalBinder) Bind(id os.Signal, cb Callback) error {
	return b.BindToggle(id, cb, nil)
}

// BindHandler binds h, as a toggle when h has a secondary callback.
func (b *SignalBinder) BindHandler(id os.Signal, h Handler) error {
	return b.BindToggle(id, h.Callback(), h.Secondary())
}

// BindToggle associates id with a primary and a secondary callback. Each
// notification runs one of them; the binder switches to the other one
// only when the callback that ran returned true.
func (b *SignalBinder) BindToggle(id os.Signal, primary, secondary Callback) error {
	if _, err := slotOf(id); err != nil {
		return err
	}
	if primary == nil {
		return fmt.Errorf("bind %v: nil callback", id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	nb := &binding{primary: primary, secondary: secondary}
	if old, ok := b.bindings[id]; ok {
		nb.ignored = old.ignored
	} else if s, ok := id.(syscall.Signal); ok {
		nb.ignored = signal.Ignored(s)
	}
	b.bindings[id] = nb

	if s, ok := id.(syscall.Signal); ok && b.sigCh != nil {
		signal.Notify(b.sigCh, s)
	}
	slog.Debug("signal bound", "signal", id, "toggle", secondary != nil)
	return nil
}

// MustBind is like [SignalBinder.Bind] but panics on error.
func (b *SignalBinder) MustBind(id os.Signal, cb Callback) {
	if err := b.Bind(id, cb); err != nil {
		panic(err)
	}
}

// Unbind removes the binding for id and restores the signal's previous
// OS disposition. Unbinding an unbound identifier is a no-op.
func (b *SignalBinder) Unbind(id os.Signal) error {
	if _, err := slotOf(id); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.bindings[id]
	if !ok {
		return nil
	}
	delete(b.bindings, id)
	if s, isSig := id.(syscall.Signal); isSig && b.sigCh != nil {
		restore(s, old.ignored)
	}
	slog.Debug("signal unbound", "signal", id)
	return nil
}

// IsBound reports whether id currently has a binding.
func (b *SignalBinder) IsBound(id os.Signal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bindings[id]
	return ok
}

// Running reports whether the dispatch loop is running.
func (b *SignalBinder) Running() bool {
	return b.running.Load()
}

// Start opens the wake-up pipe, registers every bound POSIX signal with the
// runtime and launches the dispatch loop. Starting a running binder is a
// no-op.
func (b *SignalBinder) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running.Load() {
		return nil
	}

	p, err := selfpipe.New()
	if err != nil {
		return fmt.Errorf("start signal binder: %w", err)
	}
	for i := range b.pending {
		b.pending[i].Store(false)
	}
	b.pipe.Store(p)
	b.sigCh = make(chan os.Signal, slotCount)
	b.done = make(chan struct{})

	for id := range b.bindings {
		if s, ok := id.(syscall.Signal); ok {
			signal.Notify(b.sigCh, s)
		}
	}

	b.wg.Add(2)
	go b.forward(b.sigCh, b.done)
	go b.dispatchLoop(p)
	b.running.Store(true)

	slog.Debug("signal binder started", "bindings", len(b.bindings))
	return nil
}

// Stop ends the dispatch loop, restores OS dispositions for bound signals
// and drops every binding. Stopping a stopped binder is a no-op.
func (b *SignalBinder) Stop() error {
	b.mu.Lock()
	if !b.running.CompareAndSwap(true, false) {
		b.mu.Unlock()
		return nil
	}
	signal.Stop(b.sigCh)
	for id, bd := range b.bindings {
		if s, ok := id.(syscall.Signal); ok {
			restore(s, bd.ignored)
		}
	}
	clear(b.bindings)
	b.sigCh = nil
	close(b.done)
	p := b.pipe.Load()
	b.mu.Unlock()

	p.Shutdown()
	b.wg.Wait()
	if err := p.Close(); err != nil {
		return fmt.Errorf("stop signal binder: %w", err)
	}
	slog.Debug("signal binder stopped")
	return nil
}

// Raise delivers id through the same path as an OS signal, without
// involving the OS. It is how service control requests and other event
// sources reach their bindings. It fails with [ErrUnavailable] if the
// binder is not running.
func (b *SignalBinder) Raise(id os.Signal) error {
	slot, err := slotOf(id)
	if err != nil {
		return err
	}
	if !b.running.Load() {
		return fmt.Errorf("raise %v: %w", id, ErrUnavailable)
	}
	b.post(slot)
	return nil
}

// ///////////////////////////////////////////////
// Producer Side
// ///////////////////////////////////////////////

// post marks slot pending and wakes the dispatch loop. It takes no locks and
// allocates nothing.
func (b *SignalBinder) post(slot int) {
	b.pending[slot].Store(true)
	if p := b.pipe.Load(); p != nil {
		p.Poke()
	}
}

// forward moves runtime signal deliveries onto the pending table.
func (b *SignalBinder) forward(ch <-chan os.Signal, done <-chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-done:
			return
		case sig := <-ch:
			if slot, err := slotOf(sig); err == nil {
				b.post(slot)
			}
		}
	}
}

// ///////////////////////////////////////////////
// Consumer Side
// ///////////////////////////////////////////////

// dispatchLoop waits on the pipe and runs callbacks for every pending
// identifier until the pipe is shut down.
func (b *SignalBinder) dispatchLoop(p *selfpipe.Pipe) {
	defer b.wg.Done()
	for {
		if err := p.Wait(); err != nil {
			if !errors.Is(err, selfpipe.ErrClosed) {
				slog.Error("signal dispatch loop failed", "error", err)
			}
			return
		}
		for slot := 1; slot < slotCount; slot++ {
			if b.pending[slot].Swap(false) {
				b.dispatch(signalAt(slot))
			}
		}
	}
}

// dispatch runs the callback bound to id, if any. The binder lock is not
// held while the callback runs, so callbacks may bind and unbind.
func (b *SignalBinder) dispatch(id os.Signal) {
	b.mu.Lock()
	bd, ok := b.bindings[id]
	if !ok {
		b.mu.Unlock()
		slog.Debug("signal has no binding", "signal", id)
		return
	}
	cb, second := bd.primary, false
	if bd.secondary != nil && bd.next {
		cb, second = bd.secondary, true
	}
	b.mu.Unlock()

	slog.Debug("dispatching signal", "signal", id, "secondary", second)
	result := invoke(id, cb)

	if result && bd.secondary != nil {
		b.mu.Lock()
		if b.bindings[id] == bd {
			bd.next = !second
		}
		b.mu.Unlock()
	}
}

// invoke runs cb, converting a panic into a false result so that one
// faulty callback cannot stop the dispatch loop.
func invoke(id os.Signal, cb Callback) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("signal callback panic", "signal", id, "error", r)
			result = false
		}
	}()
	return cb()
}

// restore puts s back to the disposition it had before it was bound.
func restore(s syscall.Signal, ignored bool) {
	if ignored {
		signal.Ignore(s)
		return
	}
	signal.Reset(s)
}
