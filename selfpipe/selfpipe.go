// Package selfpipe implements a wake-up channel whose producer side is safe
// to use from a signal delivery path.
//
// A producer calls [Pipe.Poke], which performs one non-blocking write and
// nothing else: no locks, no allocation, no logging. A single consumer
// blocks in [Pipe.Wait] and does all real work after it returns. Any number
// of pokes made before the consumer wakes collapse into one wake-up, so
// consumers must treat a wake as "at least one notification is pending".
//
// On Unix the channel is a non-blocking pipe. On Windows it is an
// auto-reset event object.
package selfpipe

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by [Pipe.Wait] once [Pipe.Shutdown] or
// [Pipe.Close] has been called.
var ErrClosed = errors.New("selfpipe: closed")

// Pipe is a level-triggered wake-up channel with any number of producers
// and one consumer.
type Pipe struct {
	// closed is set by Shutdown/Close; pokes after it are dropped.
	closed atomic.Bool
	// pokers counts Poke calls in flight so Close does not release the
	// native handle underneath a concurrent write.
	pokers atomic.Int32
	// once makes Close idempotent.
	once sync.Once
	// native holds the platform handles.
	native
}

// New creates an open Pipe.
func New() (*Pipe, error) {
	p := &Pipe{}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

// Poke wakes the consumer. It never blocks and is a no-op after Shutdown.
func (p *Pipe) Poke() {
	p.pokers.Add(1)
	if !p.closed.Load() {
		p.signal()
	}
	p.pokers.Add(-1)
}

// Wait blocks until at least one Poke has happened since the previous Wait
// returned, then clears every pending poke. It returns [ErrClosed] once the
// pipe has been shut down.
func (p *Pipe) Wait() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.wait(); err != nil {
		return err
	}
	if p.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Shutdown marks the pipe closed and wakes the consumer so that its pending
// or next Wait returns [ErrClosed]. Native handles stay open until Close.
func (p *Pipe) Shutdown() {
	if p.closed.Swap(true) {
		return
	}
	p.signal()
}

// Close shuts the pipe down and releases its native handles. Call it only
// after the consumer has stopped waiting.
func (p *Pipe) Close() error {
	var err error
	p.once.Do(func() {
		p.Shutdown()
		for p.pokers.Load() > 0 {
			runtime.Gosched()
		}
		err = p.release()
	})
	return err
}
