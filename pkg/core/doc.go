// Package core provides the fundamental types shared by the Worker and
// Master daemons: the job row model, status enum, in-memory target
// definition, job-done event, and sentinel errors.
package core
