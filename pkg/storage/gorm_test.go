package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/fabric/pkg/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := openTestDB(t)
	s := New(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

func insertRow(t *testing.T, s *Store, row *core.JobRow) {
	t.Helper()
	require.NoError(t, s.db.Create(row).Error)
}

func TestClaimWaiting_AcceptsServedTarget(t *testing.T) {
	s := newTestStore(t)
	insertRow(t, s, &core.JobRow{Target: "build", Status: core.StatusWaiting, TimeCreated: time.Now().Unix()})
	insertRow(t, s, &core.JobRow{Target: "build", Status: core.StatusWaiting, TimeCreated: time.Now().Unix()})

	outcome, err := s.ClaimWaiting(context.Background(), []string{"build"}, map[string]bool{"build": true}, 0)
	require.NoError(t, err)
	assert.Len(t, outcome.Accepted, 2)
	assert.Empty(t, outcome.Ignored)

	for _, row := range outcome.Accepted {
		assert.Equal(t, core.StatusAccepted, row.Status)
	}
}

func TestClaimWaiting_IgnoresUnservedTarget(t *testing.T) {
	s := newTestStore(t)
	insertRow(t, s, &core.JobRow{Target: "deploy", Status: core.StatusWaiting, TimeCreated: time.Now().Unix()})

	outcome, err := s.ClaimWaiting(context.Background(), []string{"deploy"}, map[string]bool{"build": true}, 0)
	require.NoError(t, err)
	assert.Empty(t, outcome.Accepted)
	require.Len(t, outcome.Ignored, 1)

	var row core.JobRow
	require.NoError(t, s.db.First(&row, outcome.Ignored[0]).Error)
	assert.Equal(t, core.StatusIgnored, row.Status)
}

func TestClaimWaiting_RespectsFetchLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		insertRow(t, s, &core.JobRow{Target: "build", Status: core.StatusWaiting, TimeCreated: time.Now().Unix()})
	}

	outcome, err := s.ClaimWaiting(context.Background(), []string{"build"}, map[string]bool{"build": true}, 2)
	require.NoError(t, err)
	assert.Len(t, outcome.Accepted, 2)

	var stillWaiting int64
	require.NoError(t, s.db.Model(&core.JobRow{}).Where("status = ?", core.StatusWaiting).Count(&stillWaiting).Error)
	assert.EqualValues(t, 3, stillWaiting)
}

func TestClaimWaiting_OrdersByIDAscending(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		insertRow(t, s, &core.JobRow{Target: "build", Status: core.StatusWaiting, TimeCreated: time.Now().Unix()})
	}

	outcome, err := s.ClaimWaiting(context.Background(), []string{"build"}, map[string]bool{"build": true}, 0)
	require.NoError(t, err)
	require.Len(t, outcome.Accepted, 3)
	assert.True(t, outcome.Accepted[0].ID < outcome.Accepted[1].ID)
	assert.True(t, outcome.Accepted[1].ID < outcome.Accepted[2].ID)
}

func TestClaimByIDs_ManualAcceptIgnoreNotFound(t *testing.T) {
	s := newTestStore(t)
	manual := &core.JobRow{Target: "a", Status: core.StatusManual, TimeCreated: time.Now().Unix()}
	insertRow(t, s, manual)
	alreadyDone := &core.JobRow{Target: "b", Status: core.StatusDone, TimeCreated: time.Now().Unix()}
	insertRow(t, s, alreadyDone)

	outcome, err := s.ClaimByIDs(context.Background(), []uint64{manual.ID, alreadyDone.ID, 99999}, map[string]bool{"a": true, "b": true})
	require.NoError(t, err)

	require.Len(t, outcome.Accepted, 1)
	assert.Equal(t, manual.ID, outcome.Accepted[0].ID)
	assert.Equal(t, []uint64{alreadyDone.ID}, outcome.Ignored)
	assert.Equal(t, []uint64{99999}, outcome.NotFound)
}

func TestClaimByIDs_IgnoresUnservedTarget(t *testing.T) {
	s := newTestStore(t)
	row := &core.JobRow{Target: "c", Status: core.StatusManual, TimeCreated: time.Now().Unix()}
	insertRow(t, s, row)

	outcome, err := s.ClaimByIDs(context.Background(), []uint64{row.ID}, map[string]bool{"a": true})
	require.NoError(t, err)
	assert.Empty(t, outcome.Accepted)
	assert.Equal(t, []uint64{row.ID}, outcome.Ignored)
}

func TestMarkRunning_SetsTimeStarted(t *testing.T) {
	s := newTestStore(t)
	row := &core.JobRow{Target: "build", Status: core.StatusAccepted, TimeCreated: time.Now().Unix()}
	insertRow(t, s, row)

	startedAt, err := s.MarkRunning(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Greater(t, startedAt, int64(0))

	var got core.JobRow
	require.NoError(t, s.db.First(&got, row.ID).Error)
	assert.Equal(t, core.StatusRunning, got.Status)
	require.NotNil(t, got.TimeStarted)
	assert.Equal(t, startedAt, *got.TimeStarted)
}

func TestMarkDone_WritesResultAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	row := &core.JobRow{Target: "build", Status: core.StatusRunning, TimeCreated: time.Now().Unix()}
	insertRow(t, s, row)

	code := 0
	err := s.MarkDone(context.Background(), row.ID, JobResult{
		Result:     core.ResultOK,
		ReturnCode: &code,
		Stdout:     "done",
	})
	require.NoError(t, err)

	var got core.JobRow
	require.NoError(t, s.db.First(&got, row.ID).Error)
	assert.Equal(t, core.StatusDone, got.Status)
	assert.Equal(t, string(core.ResultOK), got.Result)
	require.NotNil(t, got.ReturnCode)
	assert.Equal(t, 0, *got.ReturnCode)
	assert.Equal(t, "done", got.Stdout)
	require.NotNil(t, got.TimeFinished)
}

func TestStaleRunning_FindsOldRunningRows(t *testing.T) {
	s := newTestStore(t)
	oldStart := time.Now().Add(-time.Hour).Unix()
	stale := &core.JobRow{Target: "build", Status: core.StatusRunning, TimeCreated: oldStart, TimeStarted: &oldStart}
	insertRow(t, s, stale)

	recentStart := time.Now().Unix()
	fresh := &core.JobRow{Target: "build", Status: core.StatusRunning, TimeCreated: recentStart, TimeStarted: &recentStart}
	insertRow(t, s, fresh)

	rows, err := s.StaleRunning(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale.ID, rows[0].ID)
}

func TestIsFatalConnError(t *testing.T) {
	assert.False(t, isFatalConnError(nil))
	assert.False(t, isFatalConnError(assertErr("boom")))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
