// Package runner spawns the child process for one claimed job, captures
// its output under a cap, and writes the final state back to storage.
package runner
