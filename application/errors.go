package application

import (
	"errors"

	"tools.zach/dev/appcore/aspect"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrAlreadyExists is returned by [CreateGlobal] when the global context
	// is already present.
	ErrAlreadyExists = errors.New("application: global context already exists")

	// ErrNotFound is returned when a required context or aspect is absent.
	// It is the same value as [aspect.ErrNotFound] so either can be used
	// with errors.Is.
	ErrNotFound = aspect.ErrNotFound

	// ErrLockOwnership is re-exported from the aspect package.
	ErrLockOwnership = aspect.ErrLockOwnership

	// ErrUnsupportedSignal is returned when a signal identifier cannot be
	// delivered on this platform.
	ErrUnsupportedSignal = errors.New("application: unsupported signal")

	// ErrUnavailable is returned when an operation needs a running dispatch
	// loop and the binder has not been started.
	ErrUnavailable = errors.New("application: dispatch loop not running")

	// ErrSetupFailure is returned by the launch functions when the
	// application could not be started. The main function never runs in
	// that case.
	ErrSetupFailure = errors.New("application: setup failure")
)
