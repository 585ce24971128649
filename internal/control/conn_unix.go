// conn_unix.go implements the control endpoint transport for Unix-like
// systems as a Unix domain socket in the data directory.

//go:build !windows

package control

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"tools.zach/dev/appcore/internal/paths"
)

// DefaultAddress returns the socket path inside the data directory.
// service is unused on Unix.
func DefaultAddress(d paths.DataDir, service string) string {
	return d.Socket()
}

// listen creates the socket, replacing a stale one left by a daemon that
// did not shut down cleanly. The socket is only accessible to its owner.
func listen(address string) (net.Listener, error) {
	if _, err := os.Stat(address); err == nil {
		if conn, err := net.DialTimeout("unix", address, time.Second); err == nil {
			conn.Close()
			return nil, fmt.Errorf("socket %s is in use", address)
		}
		slog.Info("removing stale control socket", "path", address)
		if err := os.Remove(address); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", address)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(address, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// dial connects to the socket at address.
func dial(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", address, timeout)
}

// cleanup removes the socket file after the listener closed.
func cleanup(address string) {
	if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("failed to remove control socket", "path", address, "error", err)
	}
}
