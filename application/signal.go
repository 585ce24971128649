package application

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

// ///////////////////////////////////////////////
// Events
// ///////////////////////////////////////////////

// Event is a notification identifier for sources that are not POSIX
// signals: the Windows service control manager, a control socket, a file
// watcher. It implements [os.Signal] so events and signals share one
// binding namespace. Events are delivered with [SignalBinder.Raise].
type Event uint8

const (
	EventServiceStop Event = iota + 1
	EventServicePause
	EventServiceContinue
	EventServiceShutdown
	EventReload

	// EventUser is the first identifier reserved for application use.
	EventUser Event = 16

	// MaxEvent is the largest valid Event.
	MaxEvent Event = 63
)

var eventNames = map[Event]string{
	EventServiceStop:     "service-stop",
	EventServicePause:    "service-pause",
	EventServiceContinue: "service-continue",
	EventServiceShutdown: "service-shutdown",
	EventReload:          "reload",
}

// Signal implements os.Signal.
func (e Event) Signal() {}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("event-%d", uint8(e))
}

// ///////////////////////////////////////////////
// Slots
// ///////////////////////////////////////////////

// Every deliverable identifier maps to a fixed slot in the binder's pending
// table: POSIX signal numbers occupy 1..maxSignal, events follow.
const (
	maxSignal = 64
	slotCount = maxSignal + int(MaxEvent) + 1
)

// slotOf returns the pending-table slot for sig, or ErrUnsupportedSignal.
func slotOf(sig os.Signal) (int, error) {
	switch s := sig.(type) {
	case Event:
		if s == 0 || s > MaxEvent {
			return 0, fmt.Errorf("%w: %v", ErrUnsupportedSignal, s)
		}
		return maxSignal + int(s), nil
	case syscall.Signal:
		if int(s) < 1 || int(s) > maxSignal || !catchable(s) {
			return 0, fmt.Errorf("%w: %v", ErrUnsupportedSignal, s)
		}
		return int(s), nil
	default:
		return 0, fmt.Errorf("%w: %v (%T)", ErrUnsupportedSignal, sig, sig)
	}
}

// signalAt is the inverse of slotOf.
func signalAt(slot int) os.Signal {
	if slot > maxSignal {
		return Event(slot - maxSignal)
	}
	return syscall.Signal(slot)
}

// ///////////////////////////////////////////////
// Parsing
// ///////////////////////////////////////////////

// ParseSignal resolves a configuration name to an identifier. It accepts
// event names ("reload", "service-stop"), "event-N", and platform signal
// names with or without the SIG prefix ("SIGTERM", "term").
func ParseSignal(name string) (os.Signal, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for e, en := range eventNames {
		if n == en {
			return e, nil
		}
	}
	var num int
	if _, err := fmt.Sscanf(n, "event-%d", &num); err == nil {
		if num < 1 || num > int(MaxEvent) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedSignal, name)
		}
		return Event(num), nil
	}
	up := strings.ToUpper(n)
	if !strings.HasPrefix(up, "SIG") {
		up = "SIG" + up
	}
	s := signalNum(up)
	if s == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSignal, name)
	}
	if _, err := slotOf(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseSignals resolves every name in names.
func ParseSignals(names []string) ([]os.Signal, error) {
	out := make([]os.Signal, 0, len(names))
	for _, n := range names {
		s, err := ParseSignal(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
