package aspects

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// instanceNamespace scopes name-derived instance ids.
var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tools.zach/dev/appcore/instance"))

// InstanceID derives a stable instance id from an application name, for
// applications that do not carry an explicit UUID.
func InstanceID(name string) uuid.UUID {
	return uuid.NewSHA1(instanceNamespace, []byte(name))
}

// ///////////////////////////////////////////////
// SingleInstance
// ///////////////////////////////////////////////

// SingleInstance detects whether another process of the same application
// is running. It takes an exclusive, non-blocking advisory lock on a file
// named after the instance id; the lock lives as long as the file handle,
// so a crashed holder never leaves a stale lock behind.
//
// The lock file holds "PID:TOKEN". TOKEN is random per process and lets
// [SingleInstance.Release] remove the file only if this process wrote it.
type SingleInstance struct {
	id    uuid.UUID
	token string
	path  string

	mu      sync.Mutex
	file    *os.File
	another bool
	owner   int
}

// NewSingleInstance tries to become the single instance identified by id,
// using a lock file in dir. Finding another instance is not an error: check
// [SingleInstance.IsAnother].
func NewSingleInstance(id uuid.UUID, dir string) (*SingleInstance, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	s := &SingleInstance{
		id:    id,
		token: uuid.NewString(),
		path:  filepath.Join(dir, id.String()+".lock"),
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	return s, nil
}

// acquire opens and locks the lock file, or records the current holder when
// the lock is taken. A lock won on a file that was unlinked after it was
// opened is worthless, so acquire retries against the current path.
func (s *SingleInstance) acquire() error {
	for range maxAcquireAttempts {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return fmt.Errorf("open lock file: %w", err)
		}
		if err := lockFile(f); err != nil {
			f.Close()
			if !lockHeld(err) {
				return err
			}
			s.another = true
			s.owner = readOwner(s.path)
			slog.Debug("another instance holds the lock", "path", s.path, "pid", s.owner)
			return nil
		}
		if !linkedAt(f, s.path) {
			_ = unlockFile(f)
			f.Close()
			continue
		}
		if err := f.Truncate(0); err != nil {
			_ = unlockFile(f)
			f.Close()
			return fmt.Errorf("truncate lock file: %w", err)
		}
		if _, err := fmt.Fprintf(f, "%d:%s", os.Getpid(), s.token); err != nil {
			_ = unlockFile(f)
			f.Close()
			return fmt.Errorf("write lock file: %w", err)
		}
		s.file = f
		s.owner = os.Getpid()
		return nil
	}
	return fmt.Errorf("lock file %s kept being replaced", s.path)
}

// maxAcquireAttempts bounds the retries when the lock file is removed
// between open and lock.
const maxAcquireAttempts = 5

// linkedAt reports whether f is still the file at path.
func linkedAt(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	cur, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, cur)
}

// ownsFile reports whether the held lock file still carries s.token.
func (s *SingleInstance) ownsFile() bool {
	buf := make([]byte, 128)
	n, err := s.file.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	_, token, ok := strings.Cut(string(buf[:n]), ":")
	return ok && token == s.token && linkedAt(s.file, s.path)
}

// readOwner returns the PID recorded in the lock file at path, or 0.
func readOwner(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, _, _ := strings.Cut(string(data), ":")
	n, err := strconv.Atoi(pid)
	if err != nil {
		return 0
	}
	return n
}

// ID returns the instance id.
func (s *SingleInstance) ID() uuid.UUID { return s.id }

// Path returns the lock file path.
func (s *SingleInstance) Path() string { return s.path }

// IsAnother reports whether another process held the lock when this one
// was created.
func (s *SingleInstance) IsAnother() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.another
}

// OwnerPID returns the PID of the process holding the lock: this process,
// another one, or 0 if it could not be determined.
func (s *SingleInstance) OwnerPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Continue decides whether the application should keep running. Without
// another instance it returns true. Otherwise it asks onAnother, and a nil
// onAnother means stop.
func (s *SingleInstance) Continue(onAnother func() bool) bool {
	if !s.IsAnother() {
		return true
	}
	return onAnother != nil && onAnother()
}

// ErrNotOwner is returned by [SingleInstance.Release] on an instance that
// never held the lock.
var ErrNotOwner = errors.New("aspects: lock not held by this instance")

// Release removes the lock file if it still carries this process's token,
// then unlocks and closes it. Releasing twice is a no-op.
//
// Where the platform allows it the file is unlinked while the lock is still
// held, so no process can lock the old file after this one lets go.
func (s *SingleInstance) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.another {
		return ErrNotOwner
	}
	if s.file == nil {
		return nil
	}
	owned := s.ownsFile()
	if owned && removeWhileLocked {
		os.Remove(s.path)
	}
	_ = unlockFile(s.file)
	err := s.file.Close()
	s.file = nil
	if owned && !removeWhileLocked {
		os.Remove(s.path)
	}
	if err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}
