// Windows signal support. The Go runtime delivers console control events as
// SIGINT (Ctrl+C, Ctrl+Break) and SIGTERM (close, logoff, shutdown); every
// service control request arrives as an [Event].

//go:build windows

package application

import (
	"os"
	"syscall"
)

// catchable reports whether the runtime can deliver s.
func catchable(s syscall.Signal) bool {
	return s == syscall.SIGINT || s == syscall.SIGTERM
}

// signalNum maps a "SIGxxx" name to its number, or 0.
func signalNum(name string) syscall.Signal {
	switch name {
	case "SIGINT":
		return syscall.SIGINT
	case "SIGTERM":
		return syscall.SIGTERM
	default:
		return 0
	}
}

// defaultSignals returns the identifiers the driver binds to the
// termination, pause and resume handlers. Under the service control manager
// a stop or shutdown request terminates; in a console, Ctrl+C does.
func defaultSignals(service bool) (term, pause, resume []os.Signal) {
	term = []os.Signal{os.Interrupt}
	if service {
		term = []os.Signal{EventServiceStop, EventServiceShutdown}
	}
	return term, []os.Signal{EventServicePause}, []os.Signal{EventServiceContinue}
}
