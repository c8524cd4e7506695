// Package rpc implements the request/response layer shared by the Worker
// and Master daemons: a Connection owns one TCP peer and correlates
// requests with responses by sequence number, and a Router dispatches
// decoded requests to typed handlers and turns handler errors into error
// responses.
package rpc
