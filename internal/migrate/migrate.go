// Package migrate upgrades versioned on-disk files one schema step at a
// time. A [Registry] holds the steps for one file format; config.toml is
// the only format today.
package migrate

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

var (
	// ErrFutureVersion is returned for a file written by a newer build.
	ErrFutureVersion = errors.New("schema version is newer than this build supports")
	// ErrMissingStep is returned when no migration produces a version
	// between the file's and the registry's current one.
	ErrMissingStep = errors.New("no migration registered")
)

// Migration upgrades data from Version-1 to Version.
type Migration struct {
	Version     int
	Description string
	Upgrade     func(data []byte) ([]byte, error)
}

// Registry is the ordered set of migrations for one file format.
type Registry struct {
	// Name labels log lines and errors, e.g. "config".
	Name string
	// Current is the schema version this build reads and writes.
	Current int

	steps map[int]Migration
}

// NewRegistry returns an empty registry for files at schema version current.
func NewRegistry(name string, current int) *Registry {
	return &Registry{Name: name, Current: current, steps: make(map[int]Migration)}
}

// Register adds m. It panics on a duplicate version or one outside
// 2..Current, since both are programming errors caught at init.
func (r *Registry) Register(m Migration) {
	if m.Version < 2 || m.Version > r.Current {
		panic(fmt.Sprintf("migrate: %s migration v%d outside 2..%d", r.Name, m.Version, r.Current))
	}
	if _, dup := r.steps[m.Version]; dup {
		panic(fmt.Sprintf("migrate: duplicate %s migration v%d (%q)", r.Name, m.Version, m.Description))
	}
	r.steps[m.Version] = m
}

// Pending returns the migrations that take a file at version from to
// Current, in order. A file already at Current needs none.
func (r *Registry) Pending(from int) ([]Migration, error) {
	if from > r.Current {
		return nil, fmt.Errorf("%s v%d: %w (max v%d)", r.Name, from, ErrFutureVersion, r.Current)
	}
	var out []Migration
	for v := max(from, 1) + 1; v <= r.Current; v++ {
		m, ok := r.steps[v]
		if !ok {
			return nil, fmt.Errorf("%s v%d -> v%d: %w", r.Name, v-1, v, ErrMissingStep)
		}
		out = append(out, m)
	}
	return out, nil
}

// Upgrade runs every pending step over data and returns the result and the
// descriptions of the steps applied. On failure data is untouched and the
// error names the step.
func (r *Registry) Upgrade(data []byte, from int) ([]byte, []string, error) {
	steps, err := r.Pending(from)
	if err != nil {
		return nil, nil, err
	}
	applied := make([]string, 0, len(steps))
	out := slices.Clone(data)
	for _, m := range steps {
		slog.Info("applying migration", "target", r.Name, "version", m.Version, "description", m.Description)
		out, err = m.Upgrade(out)
		if err != nil {
			return nil, nil, fmt.Errorf("%s migration to v%d (%s): %w", r.Name, m.Version, m.Description, err)
		}
		applied = append(applied, m.Description)
	}
	return out, applied, nil
}

// Config is the registry for config.toml. The config package registers its
// steps in init.
var Config = NewRegistry("config", 2)
