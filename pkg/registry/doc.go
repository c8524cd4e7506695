// Package registry is the Master's Worker connection registry: it
// tracks every registered Worker's advertised targets and display
// name, removes entries on disconnect, and drives the keepalive ping
// ticker.
package registry
