package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/relaywire/fabric/pkg/core"
)

// Store is the GORM-backed adapter a Worker polls against. It owns the
// transactional claim protocol: selecting eligible rows under a row
// lock, classifying them, and writing back the resulting status in the
// same transaction.
type Store struct {
	db *gorm.DB
}

// New wraps an already-opened *gorm.DB (mysql in production, sqlite in
// tests).
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the jobs table if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.JobRow{})
}

// ClaimOutcome is the result of one claim transaction: the ids split by
// what happened to them.
type ClaimOutcome struct {
	Accepted []core.JobRow
	Ignored  []uint64
	NotFound []uint64
}

// ClaimWaiting runs the polling-loop claim transaction: select waiting
// rows for the given targets, row-locked, classify each against
// servedTargets, and commit the resulting status change. A fetchLimit of
// 0 disables the LIMIT clause.
func (s *Store) ClaimWaiting(ctx context.Context, targets []string, servedTargets map[string]bool, fetchLimit int) (ClaimOutcome, error) {
	var outcome ClaimOutcome
	err := s.withReconnect(ctx, func() error {
		outcome = ClaimOutcome{}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("status = ?", core.StatusWaiting).
				Where("target IN ?", targets).
				Order("id ASC")
			if fetchLimit > 0 {
				q = q.Limit(fetchLimit)
			}
			var rows []core.JobRow
			if err := q.Find(&rows).Error; err != nil {
				return err
			}
			classifyAndApply(&outcome, rows, core.StatusWaiting, servedTargets)
			return applyClaimOutcome(tx, outcome)
		})
	})
	return outcome, err
}

// ClaimByIDs runs the manual-run claim transaction: select the requested
// ids row-locked regardless of target, classify each as accepted,
// ignored, or not-found.
func (s *Store) ClaimByIDs(ctx context.Context, ids []uint64, servedTargets map[string]bool) (ClaimOutcome, error) {
	var outcome ClaimOutcome
	err := s.withReconnect(ctx, func() error {
		outcome = ClaimOutcome{}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rows []core.JobRow
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id IN ?", ids).
				Find(&rows).Error; err != nil {
				return err
			}

			found := make(map[uint64]bool, len(rows))
			for _, r := range rows {
				found[r.ID] = true
			}
			for _, id := range ids {
				if !found[id] {
					outcome.NotFound = append(outcome.NotFound, id)
				}
			}

			classifyAndApply(&outcome, rows, core.StatusManual, servedTargets)
			return applyClaimOutcome(tx, outcome)
		})
	})
	return outcome, err
}

// classifyAndApply splits rows into Accepted/Ignored: wrong status, or a
// target this Worker does not serve, is ignored.
func classifyAndApply(outcome *ClaimOutcome, rows []core.JobRow, needed core.JobStatus, servedTargets map[string]bool) {
	for _, row := range rows {
		if row.Status != needed {
			outcome.Ignored = append(outcome.Ignored, row.ID)
			continue
		}
		if servedTargets != nil && !servedTargets[row.Target] {
			outcome.Ignored = append(outcome.Ignored, row.ID)
			continue
		}
		outcome.Accepted = append(outcome.Accepted, row)
	}
}

func applyClaimOutcome(tx *gorm.DB, outcome ClaimOutcome) error {
	if len(outcome.Accepted) > 0 {
		ids := make([]uint64, len(outcome.Accepted))
		for i, r := range outcome.Accepted {
			ids[i] = r.ID
		}
		if err := tx.Model(&core.JobRow{}).Where("id IN ?", ids).
			Update("status", core.StatusAccepted).Error; err != nil {
			return err
		}
		for i := range outcome.Accepted {
			outcome.Accepted[i].Status = core.StatusAccepted
		}
	}
	if len(outcome.Ignored) > 0 {
		if err := tx.Model(&core.JobRow{}).Where("id IN ?", outcome.Ignored).
			Update("status", core.StatusIgnored).Error; err != nil {
			return err
		}
	}
	return nil
}

// MarkRunning transitions id to running and stamps time_started.
func (s *Store) MarkRunning(ctx context.Context, id uint64) (startedAt int64, err error) {
	startedAt = time.Now().Unix()
	err = s.withReconnect(ctx, func() error {
		return s.db.WithContext(ctx).Model(&core.JobRow{}).Where("id = ?", id).
			Updates(map[string]any{
				"status":       core.StatusRunning,
				"time_started": startedAt,
			}).Error
	})
	return startedAt, err
}

// JobResult is the runner's write-back payload for a finished job.
type JobResult struct {
	Result     core.Result
	ReturnCode *int
	Sig        string
	Stdout     string
	Stderr     string
}

// MarkDone transitions id to done with the runner's captured outcome.
func (s *Store) MarkDone(ctx context.Context, id uint64, res JobResult) error {
	return s.withReconnect(ctx, func() error {
		return s.db.WithContext(ctx).Model(&core.JobRow{}).Where("id = ?", id).
			Updates(map[string]any{
				"status":        core.StatusDone,
				"result":        string(res.Result),
				"return_code":   res.ReturnCode,
				"sig":           res.Sig,
				"stdout":        res.Stdout,
				"stderr":        res.Stderr,
				"time_finished": time.Now().Unix(),
			}).Error
	})
}

// StaleRunning returns rows stuck in running for longer than olderThan,
// the raw material for the reconciliation report.
func (s *Store) StaleRunning(ctx context.Context, olderThan time.Duration) ([]core.JobRow, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	var rows []core.JobRow
	err := s.withReconnect(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("status = ?", core.StatusRunning).
			Where("time_started IS NOT NULL AND time_started < ?", cutoff).
			Order("id ASC").
			Find(&rows).Error
	})
	return rows, err
}

// withReconnect runs fn once, and if it fails with a fatal connection
// error, pings the pool and retries fn exactly once more.
func (s *Store) withReconnect(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isFatalConnError(err) {
		return err
	}
	sqlDB, dbErr := s.db.DB()
	if dbErr != nil {
		return err
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		return err
	}
	return fn()
}

func isFatalConnError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// 2006: server gone away, 2013: lost connection during query.
		return mysqlErr.Number == 2006 || mysqlErr.Number == 2013
	}
	return false
}
