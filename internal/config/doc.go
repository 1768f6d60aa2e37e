// Package config loads, normalizes, and validates cloven configuration.
//
// Values come from a TOML file (default ~/.config/cloven/config.toml or
// ./cloven.toml), then CLOVEN_PARALLEL_* environment overrides, then path
// expansion and validation. Default returns the repository defaults and
// CreateSample writes the embedded sample file used by `cloven config init`.
package config
