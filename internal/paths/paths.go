// Package paths centralizes file and directory names used by the appcore
// daemon and its control CLI. All data directory file names are defined
// here as the single source of truth.
package paths

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	ConfigFile = "config.toml"
	LogFile    = "appcored.log"
	SocketFile = "appcored.sock"
	LockDir    = "run"
)

// Binary and application names.
const (
	AppName        = "appcore"
	BinaryName     = "appcored"
	CtlBinaryName  = "appctl"
	PipeNamePrefix = `\\.\pipe\`
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// DefaultRoot returns the default data directory, $XDG_DATA_HOME/appcore
// or the platform equivalent.
func DefaultRoot() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Default returns a DataDir rooted at [DefaultRoot].
func Default() DataDir {
	return DataDir{Root: DefaultRoot()}
}

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Socket returns the full path to the control socket.
func (d DataDir) Socket() string { return filepath.Join(d.Root, SocketFile) }

// Locks returns the directory holding single-instance lock files.
func (d DataDir) Locks() string { return filepath.Join(d.Root, LockDir) }

// PipeName returns the Windows named pipe for a service.
func PipeName(service string) string {
	return PipeNamePrefix + service
}
