package migrate

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Document is a decoded TOML file as generic tables.
type Document map[string]any

// Table returns the sub-table at key, or nil if key is absent or not a
// table.
func (d Document) Table(key string) map[string]any {
	t, _ := d[key].(map[string]any)
	return t
}

// Rename moves table[from] to table[to] unless table[to] is already set.
// It reports whether anything moved.
func Rename(table map[string]any, from, to string) bool {
	v, ok := table[from]
	if !ok {
		return false
	}
	delete(table, from)
	if _, exists := table[to]; exists {
		return false
	}
	table[to] = v
	return true
}

// TOML adapts an edit on a decoded document into a [Migration] upgrade
// function. The top-level "version" key is set to version after fn runs.
// Comments and formatting of the original file are not preserved.
func TOML(version int, fn func(doc Document) error) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		doc := Document{}
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if err := fn(doc); err != nil {
			return nil, err
		}
		doc["version"] = version
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return buf.Bytes(), nil
	}
}
