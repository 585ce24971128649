// Launch support for platforms without a native service manager. Background
// runs exactly like Interactive; detaching from the terminal is left to the
// process supervisor (systemd, launchd, a shell's nohup).

//go:build !windows

package application

// underServiceManager reports whether the process was started by a service
// manager the driver can talk to. There is none here.
func underServiceManager() bool {
	return false
}

// runService is never reached on this platform; it runs main directly.
func runService(_ string, main MainFunc, _ *Context, _ *SignalBinder) (int, error) {
	return main(), nil
}
