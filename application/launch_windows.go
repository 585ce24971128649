// Windows service control manager support. Control requests are turned into
// events and raised on the signal binder, so pause, continue and stop reach
// the same handlers as every other notification.

//go:build windows

package application

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/windows/svc"

	"tools.zach/dev/appcore/aspect"
)

// reconcileInterval is how often the reported service state is brought in
// line with the Status aspect.
const reconcileInterval = 250 * time.Millisecond

const serviceAccepts = svc.AcceptStop | svc.AcceptShutdown | svc.AcceptPauseAndContinue

// underServiceManager reports whether the service control manager started
// this process.
func underServiceManager() bool {
	ok, err := svc.IsWindowsService()
	if err != nil {
		slog.Warn("failed to detect service mode", "error", err)
		return false
	}
	return ok
}

// runService hands control to the service control manager, which calls
// back into serviceHandler.Execute on its own goroutine.
func runService(name string, main MainFunc, cx *Context, b *SignalBinder) (int, error) {
	h := &serviceHandler{main: main, cx: cx, binder: b}
	if err := svc.Run(name, h); err != nil {
		return 3, fmt.Errorf("run service %s: %w", name, err)
	}
	return h.code, nil
}

// serviceHandler implements svc.Handler.
type serviceHandler struct {
	main   MainFunc
	cx     *Context
	binder *SignalBinder
	code   int
}

// Execute runs main on its own goroutine and translates control requests
// into events until main returns.
func (h *serviceHandler) Execute(_ []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	changes <- svc.Status{State: svc.StartPending}

	done := make(chan int, 1)
	go func() { done <- h.main() }()

	reported := svc.Running
	changes <- svc.Status{State: reported, Accepts: serviceAccepts}

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case code := <-done:
			h.code = code
			changes <- svc.Status{State: svc.StopPending}
			return false, uint32(code)

		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop:
				h.raise(EventServiceStop)
			case svc.Shutdown:
				h.raise(EventServiceShutdown)
			case svc.Pause:
				h.raise(EventServicePause)
				reported = svc.PausePending
				changes <- svc.Status{State: reported, Accepts: serviceAccepts}
			case svc.Continue:
				h.raise(EventServiceContinue)
				reported = svc.ContinuePending
				changes <- svc.Status{State: reported, Accepts: serviceAccepts}
			default:
				slog.Warn("unexpected service control request", "cmd", c.Cmd)
			}

		case <-ticker.C:
			if next := h.state(); next != reported {
				reported = next
				changes <- svc.Status{State: reported, Accepts: serviceAccepts}
			}
		}
	}
}

// raise forwards a control request to the binder.
func (h *serviceHandler) raise(e Event) {
	if err := h.binder.Raise(e); err != nil {
		slog.Error("failed to deliver service control request", "event", e, "error", err)
	}
}

// state maps the Status aspect to a service state.
func (h *serviceHandler) state() svc.State {
	st, ok := aspect.Find[*Status](h.cx)
	if !ok {
		return svc.Running
	}
	switch st.State() {
	case Paused:
		return svc.Paused
	case Stopped:
		return svc.StopPending
	default:
		return svc.Running
	}
}
