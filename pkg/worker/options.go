package worker

import "log/slog"

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithFetchLimit sets the LIMIT applied to the waiting-row claim query.
// 0 disables the limit entirely.
func WithFetchLimit(n int) Option {
	return func(s *Scheduler) { s.fetchLimit = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithClaimRetry overrides the retry policy around the claim
// transaction, used to ride out transient storage errors.
func WithClaimRetry(cfg RetryConfig) Option {
	return func(s *Scheduler) { s.claimRetry = cfg }
}
