// Package config loads, validates and edits the vmtools configuration file.
//
// The file is TOML, read from $XDG_CONFIG_HOME/vmtools/config.toml unless a
// path is given. Every setting has a built-in default, so a missing file is
// not an error. Keys are addressed in dot notation by their TOML names:
//
//	storage.images_dir
//	monitor.interval
//	templates.ubuntu.memory_mb
//
// A [templates.<name>] table in the file replaces the built-in template of
// the same name as a whole.
package config
