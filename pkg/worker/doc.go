// Package worker implements the Worker scheduler: the polling loop that
// claims waiting rows for its served targets, the manual-run contract
// that claims and waits on specific ids, and the polling/nextpoll
// reentrancy guard tying both to the target queue set.
package worker
