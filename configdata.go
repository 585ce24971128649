// Package appcore embeds the default daemon configuration.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. appcored writes it to the data directory on first
// run.
package appcore

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, generated by
// cmd/genconfig and embedded at build time.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
