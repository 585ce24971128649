// Windows implementation backed by an auto-reset event object. Repeated
// SetEvent calls before a wait collapse into a single signalled state, which
// matches the pipe's level-triggered behaviour on Unix.

//go:build windows

package selfpipe

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// native holds the event handle.
type native struct {
	event windows.Handle
}

// open creates an unnamed, initially unsignalled, auto-reset event.
func (p *Pipe) open() error {
	h, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	p.event = h
	return nil
}

// signal sets the event.
func (p *Pipe) signal() {
	_ = windows.SetEvent(p.event)
}

// wait blocks until the event is signalled. The auto-reset event clears
// itself as the wait is satisfied.
func (p *Pipe) wait() error {
	ev, err := windows.WaitForSingleObject(p.event, windows.INFINITE)
	if err != nil {
		return fmt.Errorf("wait event: %w", err)
	}
	if ev != windows.WAIT_OBJECT_0 {
		return fmt.Errorf("wait event: unexpected result %#x", ev)
	}
	return nil
}

// release closes the event handle.
func (p *Pipe) release() error {
	if err := windows.CloseHandle(p.event); err != nil {
		return fmt.Errorf("close event: %w", err)
	}
	return nil
}
