package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Values(t *testing.T) {
	assert.Equal(t, JobStatus("waiting"), StatusWaiting)
	assert.Equal(t, JobStatus("manual"), StatusManual)
	assert.Equal(t, JobStatus("accepted"), StatusAccepted)
	assert.Equal(t, JobStatus("running"), StatusRunning)
	assert.Equal(t, JobStatus("done"), StatusDone)
	assert.Equal(t, JobStatus("ignored"), StatusIgnored)
}

func TestJobRow_TableName(t *testing.T) {
	assert.Equal(t, "jobs", JobRow{}.TableName())
}

func TestJobRow_Defaults(t *testing.T) {
	row := &JobRow{}
	assert.Zero(t, row.ID)
	assert.Empty(t, row.Target)
	assert.Empty(t, row.Status)
	assert.Empty(t, row.Result)
	assert.Nil(t, row.ReturnCode)
	assert.Nil(t, row.TimeStarted)
	assert.Nil(t, row.TimeFinished)
}

func TestReservedTargetName(t *testing.T) {
	assert.Equal(t, "null", ReservedTargetName)
}
