package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_EnqueueAndClaim(t *testing.T) {
	s := newTestStore(t)

	var id string
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		id, err = EnqueueJob(context.Background(), tx, []byte(`{"kind":"deliver"}`), time.Now())
		return err
	})
	require.NoError(t, err)

	var claimed []*ClaimedJob
	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		claimed, err = ClaimJobs(context.Background(), tx, time.Now(), time.Minute*15, 10)
		return err
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, `{"kind":"deliver"}`, string(claimed[0].ContextJSON))

	j, err := GetJobByID(context.Background(), s.DB, id)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, j.State)
}

func TestJob_ClaimRespectsRunAt(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := EnqueueJob(context.Background(), tx, []byte(`{}`), time.Now().Add(time.Hour))
		return err
	})
	require.NoError(t, err)

	var claimed []*ClaimedJob
	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		claimed, err = ClaimJobs(context.Background(), tx, time.Now(), time.Minute*15, 10)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestJob_CompleteSuccessDeletesContext(t *testing.T) {
	s := newTestStore(t)

	var id string
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		id, err = EnqueueJob(context.Background(), tx, []byte(`{}`), time.Now())
		return err
	})
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return CompleteJobSuccess(context.Background(), tx, id) })
	require.NoError(t, err)

	j, err := GetJobByID(context.Background(), s.DB, id)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, j.State)

	var count int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM job_contexts WHERE id = ?`, id).Scan(&count))
	assert.Zero(t, count)
}

func TestJob_CompleteFailureSchedulesRetry(t *testing.T) {
	s := newTestStore(t)

	var id string
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		id, err = EnqueueJob(context.Background(), tx, []byte(`{}`), time.Now())
		return err
	})
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Minute)
	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return CompleteJobFailure(context.Background(), tx, id, retryAt) })
	require.NoError(t, err)

	j, err := GetJobByID(context.Background(), s.DB, id)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, j.State)
	assert.Equal(t, 1, j.FailCount)
	assert.WithinDuration(t, retryAt, time.Unix(j.RunAt, 0), time.Second)
}

func TestJob_ReclaimExpiredLeases(t *testing.T) {
	s := newTestStore(t)

	var id string
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		id, err = EnqueueJob(context.Background(), tx, []byte(`{}`), time.Now())
		return err
	})
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := ClaimJobs(context.Background(), tx, time.Now(), -time.Minute, 10)
		return err
	})
	require.NoError(t, err)

	var n int64
	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		n, err = ReclaimExpiredLeases(context.Background(), tx, time.Now())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	j, err := GetJobByID(context.Background(), s.DB, id)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, j.State)
}
