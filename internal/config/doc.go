// Package config loads, validates, and normalizes kurz configuration.
//
// Configuration is read from a TOML file (default ~/.config/kurz/config.toml)
// and merged over repository defaults. All paths are expanded to absolute
// form during normalization so the rest of the codebase never handles "~".
package config
