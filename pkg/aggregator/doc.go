// Package aggregator implements the Master's run-manual fan-out:
// picking a Worker per job by target, grouping and dispatching in
// parallel, and merging every Worker's jobs/errors maps into one
// response. It is a plain parallel-spawn-and-collect fan-out with no
// checkpoint or suspend machinery, since a run-manual call either
// completes or fails within one request.
package aggregator
