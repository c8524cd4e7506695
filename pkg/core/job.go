package core

// JobStatus is the lifecycle state of a JobRow:
//
//	waiting/manual ──claim──► accepted ──start──► running ──exit──► done
//	       │
//	       └───claim-reject──► ignored
type JobStatus string

const (
	StatusWaiting  JobStatus = "waiting"
	StatusManual   JobStatus = "manual"
	StatusAccepted JobStatus = "accepted"
	StatusRunning  JobStatus = "running"
	StatusDone     JobStatus = "done"
	StatusIgnored  JobStatus = "ignored"
)

// Result is the outcome of a finished job: "ok" iff the child exited 0.
type Result string

const (
	ResultOK   Result = "ok"
	ResultFail Result = "fail"
)

// JobRow is the unit of durable state. Rows are authored by external
// producers; the Worker only ever updates the status/result/timing
// columns of a row it has claimed under a transactional row lock. No
// daemon inserts or deletes rows.
type JobRow struct {
	ID     uint64    `gorm:"primaryKey;autoIncrement;index:idx_status_target_id,priority:3"`
	Target string    `gorm:"size:255;not null;index:idx_status_target_id,priority:2"`
	Status JobStatus `gorm:"size:20;not null;index:idx_status_target_id,priority:1"`

	Result     string `gorm:"size:10"` // "ok" | "fail" | "" (unset)
	ReturnCode *int
	Sig        string `gorm:"size:32"`
	Stdout     string `gorm:"type:text"`
	Stderr     string `gorm:"type:text"`

	TimeCreated  int64 `gorm:"not null"`
	TimeStarted  *int64
	TimeFinished *int64
}

// TableName pins the table name regardless of package/struct renames.
func (JobRow) TableName() string { return "jobs" }

// Target is the in-memory definition of a named queue on a Worker: its
// name and concurrency. The live concurrency, pause state, and
// in-flight/queued length are tracked by pkg/targetqueue, which takes
// the name and concurrency as plain arguments rather than this struct.
type Target struct {
	Name        string
	Concurrency int
}

// ReservedTargetName is the one target name configuration and
// add-target must reject.
const ReservedTargetName = "null"
