/*
Copyright 2023 - 2025 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is a JobRecord's lifecycle state.
type JobState string

const (
	JobQueued    JobState = "Queued"
	JobRunning   JobState = "Running"
	JobFailed    JobState = "Failed"
	JobSucceeded JobState = "Succeeded"
)

// JobRecord is a durable task queue entry. Its context payload lives in a
// separate JobContext row so claim scans do not read large payloads.
type JobRecord struct {
	ID             string
	State          JobState
	RunAt          int64
	FailCount      int
	LeaseExpiresAt sql.NullInt64
	CreatedAt      int64
	UpdatedAt      int64
}

// ErrJobNotFound is returned when no job record matches the lookup.
var ErrJobNotFound = errors.New("job not found")

// EnqueueJob stores contextJSON and creates a Queued JobRecord due at
// runAt.
func EnqueueJob(ctx context.Context, tx *sql.Tx, contextJSON []byte, runAt time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}

	now := time.Now().Unix()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_records (id, state, run_at, fail_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		id.String(), JobQueued, runAt.Unix(), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert job record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO job_contexts (id, context_json) VALUES (?, ?)`, id.String(), string(contextJSON))
	if err != nil {
		return "", fmt.Errorf("failed to insert job context: %w", err)
	}

	return id.String(), nil
}

// ClaimedJob pairs a claimed JobRecord with its context payload.
type ClaimedJob struct {
	JobRecord
	ContextJSON []byte
}

// ClaimJobs atomically claims up to limit jobs whose run_at <= now and
// whose state is Queued or (Failed and run_at due), transitioning them to
// Running with a lease expiring at now+leaseDuration.
func ClaimJobs(ctx context.Context, tx *sql.Tx, now time.Time, leaseDuration time.Duration, limit int) ([]*ClaimedJob, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM job_records
		WHERE state IN ('Queued', 'Failed') AND run_at <= ?
		ORDER BY run_at ASC
		LIMIT ?`,
		now.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable jobs: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claimable job: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	leaseExpires := now.Add(leaseDuration).Unix()

	var claimed []*ClaimedJob
	for _, id := range ids {
		var rec JobRecord
		err := tx.QueryRowContext(ctx, `
			UPDATE job_records SET state = ?, lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND state IN ('Queued', 'Failed')
			RETURNING id, state, run_at, fail_count, lease_expires_at, created_at, updated_at`,
			JobRunning, leaseExpires, now.Unix(), id,
		).Scan(&rec.ID, &rec.State, &rec.RunAt, &rec.FailCount, &rec.LeaseExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue // raced with another claim between SELECT and UPDATE
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
		}

		var ctxJSON string
		if err := tx.QueryRowContext(ctx, `SELECT context_json FROM job_contexts WHERE id = ?`, id).Scan(&ctxJSON); err != nil {
			return nil, fmt.Errorf("failed to load job context %s: %w", id, err)
		}

		claimed = append(claimed, &ClaimedJob{
			JobRecord:   rec,
			ContextJSON: []byte(ctxJSON),
		})
	}

	return claimed, nil
}

// ReclaimJob extends a claimed job's lease. Callers of long-running tasks
// must call this at least every 2 minutes before the 15-minute lease
// expires.
func ReclaimJob(ctx context.Context, tx *sql.Tx, id string, now time.Time, leaseDuration time.Duration) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE job_records SET lease_expires_at = ?, updated_at = ? WHERE id = ? AND state = 'Running'`,
		now.Add(leaseDuration).Unix(), now.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reclaim job %s: %w", id, err)
	}
	return nil
}

// CompleteJobSuccess marks a job Succeeded and deletes its context.
func CompleteJobSuccess(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE job_records SET state = ?, updated_at = ? WHERE id = ?`, JobSucceeded, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_contexts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job context: %w", err)
	}
	return nil
}

// CompleteJobFailure increments fail_count, sets the next run_at and
// transitions the job to Failed.
func CompleteJobFailure(ctx context.Context, tx *sql.Tx, id string, nextRunAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE job_records SET state = ?, fail_count = fail_count + 1, run_at = ?, lease_expires_at = NULL, updated_at = ?
		WHERE id = ?`,
		JobFailed, nextRunAt.Unix(), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// AbandonJob marks a job Succeeded without retry after its retry horizon is
// exhausted, and deletes its context.
func AbandonJob(ctx context.Context, tx *sql.Tx, id string) error {
	return CompleteJobSuccess(ctx, tx, id)
}

// GetJobByID looks up a job record.
func GetJobByID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*JobRecord, error) {
	var j JobRecord
	err := q.QueryRowContext(ctx, `
		SELECT id, state, run_at, fail_count, lease_expires_at, created_at, updated_at
		FROM job_records WHERE id = ?`, id,
	).Scan(&j.ID, &j.State, &j.RunAt, &j.FailCount, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job record: %w", err)
	}
	return &j, nil
}

// ReclaimExpiredLeases resets jobs whose lease has expired back to Queued
// so another worker can claim them, implementing the "timed-out job's
// lease is not renewed, so another worker reclaims it" policy.
func ReclaimExpiredLeases(ctx context.Context, tx *sql.Tx, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE job_records SET state = 'Queued', lease_expires_at = NULL, updated_at = ?
		WHERE state = 'Running' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	return res.RowsAffected()
}
