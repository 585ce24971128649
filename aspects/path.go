package aspects

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// ///////////////////////////////////////////////
// Path
// ///////////////////////////////////////////////

// Path resolves the well-known locations of an application: its executable
// and the per-user directories it should keep data in. Per-user directories
// follow the XDG base directory layout on Unix and the Known Folders on
// Windows, each with the application name appended.
type Path struct {
	app string
}

// NewPath returns a resolver for the application named app.
func NewPath(app string) *Path {
	return &Path{app: app}
}

// App returns the application name the per-user directories are keyed by.
func (p *Path) App() string { return p.app }

// Executable returns the absolute path of the running executable with
// symlinks resolved.
func (p *Path) Executable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}

// ExecutableName returns the executable's file name without its extension.
func (p *Path) ExecutableName() (string, error) {
	exe, err := p.Executable()
	if err != nil {
		return "", err
	}
	base := filepath.Base(exe)
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}

// ExecutableDir returns the directory holding the executable.
func (p *Path) ExecutableDir() (string, error) {
	exe, err := p.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// CurrentDir returns the working directory.
func (p *Path) CurrentDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return dir, nil
}

// HomeDir returns the user's home directory.
func (p *Path) HomeDir() string { return xdg.Home }

// ConfigDir returns the application's per-user configuration directory.
func (p *Path) ConfigDir() string { return filepath.Join(xdg.ConfigHome, p.app) }

// AppDataDir returns the application's per-user data directory.
func (p *Path) AppDataDir() string { return filepath.Join(xdg.DataHome, p.app) }

// CacheDir returns the application's per-user cache directory.
func (p *Path) CacheDir() string { return filepath.Join(xdg.CacheHome, p.app) }

// TempDir returns the system temporary directory.
func (p *Path) TempDir() string { return os.TempDir() }
