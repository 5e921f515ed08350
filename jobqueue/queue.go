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

// Package jobqueue implements the durable job queue (C8): a worker pool
// that polls store/job.go's Queued/Failed job records, dispatches each to
// the handler registered for its kind, and reschedules failures with
// backoff until a retry horizon is exceeded. It is the runtime that
// actually drives the primitives store/job.go only defines, grounded on
// the teacher's fed/deliver.go and inbox/queue.go polling loops: a
// time.Ticker-based outer loop, a batched claim, and a fixed worker pool
// reading from one shared channel with a sync.WaitGroup for shutdown.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/config"
	"github.com/corvidfed/fedcore/logcontext"
	"github.com/corvidfed/fedcore/store"
)

// Handler processes one job's payload. Returning a non-nil error causes a
// retry (subject to backoff and the retry horizon) unless the error
// classifies via apperr as non-retryable, in which case the job is
// abandoned immediately.
type Handler func(ctx context.Context, payload json.RawMessage) error

// envelope is the job_contexts.context_json shape: `{"type": "DeliverX",
// "payload": ...}`, a discriminator plus an opaque, kind-specific payload,
// mirroring the teacher's tagged activity JSON rather than one
// context_json schema per job kind.
type envelope struct {
	Kind    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Queue runs a fixed-size worker pool against the job_records table.
type Queue struct {
	Store *store.Store

	NumWorkers           int
	LeaseDuration        time.Duration
	MoverInterval        time.Duration
	MaxRetryHorizon      time.Duration
	SoftExecutionTimeout time.Duration

	Metrics *Metrics

	mu       sync.RWMutex
	handlers map[string]Handler

	wg sync.WaitGroup
}

// batchMultiplier sizes a claim batch relative to the worker pool, so a
// tick's claim keeps every worker busy without grabbing the whole table.
const batchMultiplier = 4

// New builds a Queue from cfg. Call RegisterHandler for every job kind
// Enqueue will be asked to schedule before calling Run.
func New(s *store.Store, cfg *config.JobQueue) *Queue {
	return &Queue{
		Store:                s,
		NumWorkers:           cfg.NumWorkers,
		LeaseDuration:        cfg.LeaseDuration,
		MoverInterval:        cfg.MoverInterval,
		MaxRetryHorizon:      cfg.MaxRetryHorizon,
		SoftExecutionTimeout: cfg.SoftExecutionTimeout,
		Metrics:              NewMetrics(),
		handlers:             make(map[string]Handler),
	}
}

// RegisterHandler associates kind with h. Registering the same kind twice
// replaces the previous handler.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

func (q *Queue) handler(kind string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[kind]
	return h, ok
}

// Enqueue schedules a job of the given kind, due at runAt, inside tx.
func (q *Queue) Enqueue(ctx context.Context, tx *sql.Tx, kind string, payload any, runAt time.Time) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload for job kind %s: %w", kind, err)
	}

	env, err := json.Marshal(envelope{Kind: kind, Payload: raw})
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope for job kind %s: %w", kind, err)
	}

	return store.EnqueueJob(ctx, tx, env, runAt)
}

// Run starts the mover and worker-pool goroutines. It returns immediately;
// call Wait to block until every goroutine has exited after ctx is
// cancelled.
func (q *Queue) Run(ctx context.Context) {
	q.wg.Add(2)

	go func() {
		defer q.wg.Done()
		q.runMover(ctx)
	}()

	go func() {
		defer q.wg.Done()
		q.runProcessLoop(ctx)
	}()
}

// Wait blocks until every goroutine started by Run has returned. Callers
// cancel the context passed to Run, then call Wait to implement graceful
// shutdown: in-flight jobs finish (or are abandoned to their lease and
// reclaimed by the next process) before the call returns.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// runMover periodically resets jobs whose lease expired without the
// worker completing them back to Queued, the "atomic delayed-job mover"
// the job queue depends on for crash recovery.
func (q *Queue) runMover(ctx context.Context) {
	t := time.NewTicker(q.MoverInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			var n int64
			err := q.Store.WithTx(ctx, func(tx *sql.Tx) error {
				var err error
				n, err = store.ReclaimExpiredLeases(ctx, tx, time.Now())
				return err
			})
			if err != nil {
				slog.Error("Failed to reclaim expired job leases", "error", err)
			} else if n > 0 {
				slog.Info("Reclaimed expired job leases", "count", n)
			}
		}
	}
}

func (q *Queue) runProcessLoop(ctx context.Context) {
	t := time.NewTicker(q.MoverInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := q.ProcessBatch(ctx); err != nil {
				slog.Error("Failed to process job batch", "error", err)
			}
		}
	}
}

// ProcessBatch claims one batch of due jobs and runs them across the
// worker pool, blocking until every claimed job has been dispatched.
func (q *Queue) ProcessBatch(ctx context.Context) (int, error) {
	var claimed []*store.ClaimedJob
	err := q.Store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		claimed, err = store.ClaimJobs(ctx, tx, time.Now(), q.LeaseDuration, q.NumWorkers*batchMultiplier)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to claim jobs: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	jobs := make(chan *store.ClaimedJob)
	var wg sync.WaitGroup
	wg.Add(q.NumWorkers)
	for range q.NumWorkers {
		go func() {
			defer wg.Done()
			for job := range jobs {
				q.process(ctx, job)
			}
		}()
	}

	for _, job := range claimed {
		jobs <- job
	}
	close(jobs)
	wg.Wait()

	return len(claimed), nil
}

func (q *Queue) process(parent context.Context, job *store.ClaimedJob) {
	ctx, cancel := context.WithTimeout(parent, q.SoftExecutionTimeout)
	defer cancel()

	ctx = logcontext.Add(ctx, "job", job.ID)

	var env envelope
	if err := json.Unmarshal(job.ContextJSON, &env); err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal job envelope", "error", err)
		q.abandon(ctx, job.ID)
		return
	}

	handler, ok := q.handler(env.Kind)
	if !ok {
		slog.ErrorContext(ctx, "No handler registered for job kind", "kind", env.Kind)
		q.abandon(ctx, job.ID)
		return
	}

	if err := handler(ctx, env.Payload); err != nil {
		q.fail(ctx, job, err)
		return
	}

	q.Metrics.recordProcessed(ctx, env.Kind)

	if err := q.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.CompleteJobSuccess(ctx, tx, job.ID)
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to mark job succeeded", "error", err)
	}
}

func (q *Queue) fail(ctx context.Context, job *store.ClaimedJob, cause error) {
	env, _ := readEnvelopeKind(job.ContextJSON)
	q.Metrics.recordFailed(ctx, env)

	if !apperr.Retryable(cause) {
		slog.WarnContext(ctx, "Job failed with a non-retryable error, abandoning", "error", cause)
		q.abandon(ctx, job.ID)
		return
	}

	createdAt := time.Unix(job.CreatedAt, 0)
	nextRunAt := time.Now().Add(backoff(job.FailCount))

	if nextRunAt.After(createdAt.Add(q.MaxRetryHorizon)) {
		slog.WarnContext(ctx, "Job exceeded its retry horizon, abandoning", "error", cause, "fail_count", job.FailCount)
		q.abandon(ctx, job.ID)
		return
	}

	slog.WarnContext(ctx, "Job failed, scheduling retry", "error", cause, "fail_count", job.FailCount, "next_run_at", nextRunAt)

	if err := q.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.CompleteJobFailure(ctx, tx, job.ID, nextRunAt)
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to schedule job retry", "error", err)
	}
}

func (q *Queue) abandon(ctx context.Context, id string) {
	q.Metrics.recordAbandoned(ctx)
	if err := q.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.AbandonJob(ctx, tx, id)
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to abandon job", "job", id, "error", err)
	}
}

func readEnvelopeKind(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Kind, nil
}
