// POSIX signal support. Termination defaults to SIGINT; SIGTSTP and SIGCONT,
// the job-control pair, drive pause and resume.

//go:build !windows

package application

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// catchable reports whether a handler can be installed for s.
func catchable(s syscall.Signal) bool {
	return s != unix.SIGKILL && s != unix.SIGSTOP
}

// signalNum maps a "SIGxxx" name to its number, or 0.
func signalNum(name string) syscall.Signal {
	return unix.SignalNum(name)
}

// defaultSignals returns the identifiers the driver binds to the
// termination, pause and resume handlers. Unix has no service manager, so
// service is ignored.
func defaultSignals(service bool) (term, pause, resume []os.Signal) {
	return []os.Signal{os.Interrupt},
		[]os.Signal{unix.SIGTSTP},
		[]os.Signal{unix.SIGCONT}
}
