// Package config defines the Worker and Master daemon configuration
// shapes and a minimal `key=value` / `[section]` loader. The format is
// hand-rolled on the standard library rather than an INI parsing
// dependency; it is deliberately small.
package config
