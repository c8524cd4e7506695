// Package schedule drives the Worker's stale-running-row reconciliation
// report: a periodic, read-only, cron-driven check that surfaces jobs
// stuck in "running" after a crash without attempting to fix them.
package schedule
