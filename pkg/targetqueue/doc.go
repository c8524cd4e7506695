// Package targetqueue implements the per-target bounded work queues a
// Worker dispatches claimed jobs into: each target has its own FIFO
// backlog, a concurrency limit, and a pause flag that only gates new
// dispatch, never jobs already running.
package targetqueue
