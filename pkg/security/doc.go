// Package security provides validation, sanitization, and limits shared
// by the Worker and Master daemons.
package security
