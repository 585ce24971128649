// conn_windows.go implements the control endpoint transport for Windows as
// a named pipe (\\.\pipe\<service>) using the go-winio library.

//go:build windows

package control

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"

	"tools.zach/dev/appcore/internal/paths"
)

// pipeSecurity grants full access to SYSTEM, administrators and the
// creator-owner, and read/write to interactive users.
const pipeSecurity = "D:P(A;;GA;;;SY)(A;;GA;;;BA)(A;;GA;;;CO)(A;;GRGW;;;IU)"

// DefaultAddress returns the named pipe for service. The data directory is
// unused on Windows.
func DefaultAddress(d paths.DataDir, service string) string {
	return paths.PipeName(service)
}

// listen creates the named pipe.
func listen(address string) (net.Listener, error) {
	return winio.ListenPipe(address, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurity,
		InputBufferSize:    MaxPayloadSize,
		OutputBufferSize:   MaxPayloadSize,
	})
}

// dial connects to the named pipe at address.
func dial(address string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(address, &timeout)
}

// cleanup is a no-op: named pipes disappear with their last handle.
func cleanup(string) {}
