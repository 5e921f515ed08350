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

// Follow is a (pending or approved) follow relationship: follower_id
// follows account_id.
type Follow struct {
	ID         string
	AccountID  string
	FollowerID string
	URL        string
	ApprovedAt sql.NullInt64
	CreatedAt  int64
	UpdatedAt  int64
}

// ErrFollowNotFound is returned when no follow matches the lookup.
var ErrFollowNotFound = errors.New("follow not found")

const followColumns = `id, account_id, follower_id, url, approved_at, created_at, updated_at`

func scanFollow(row interface{ Scan(...any) error }) (*Follow, error) {
	var f Follow
	err := row.Scan(&f.ID, &f.AccountID, &f.FollowerID, &f.URL, &f.ApprovedAt, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFollowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan follow: %w", err)
	}
	return &f, nil
}

// InsertFollow creates a Follow row. approved is whether the target's
// locked flag auto-approves the request (approved_at = now) or leaves it
// pending (approved_at = NULL).
func InsertFollow(ctx context.Context, tx *sql.Tx, f *Follow, approved bool) error {
	if f.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate follow id: %w", err)
		}
		f.ID = id.String()
	}

	now := time.Now().Unix()
	f.CreatedAt = now
	f.UpdatedAt = now

	if approved {
		f.ApprovedAt = sql.NullInt64{Int64: now, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO follows (id, account_id, follower_id, url, approved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, follower_id) DO NOTHING`,
		f.ID, f.AccountID, f.FollowerID, f.URL, f.ApprovedAt, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert follow: %w", err)
	}

	return nil
}

// GetFollowByURL looks up a follow by its Follow activity URL.
func GetFollowByURL(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, url string) (*Follow, error) {
	row := q.QueryRowContext(ctx, `SELECT `+followColumns+` FROM follows WHERE url = ?`, url)
	return scanFollow(row)
}

// GetFollowByID looks up a follow by its row id, used by the delivery
// engine to re-read current state from a job payload that carries only the
// id.
func GetFollowByID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*Follow, error) {
	row := q.QueryRowContext(ctx, `SELECT `+followColumns+` FROM follows WHERE id = ?`, id)
	return scanFollow(row)
}

// GetFollow looks up a follow by (account, follower).
func GetFollow(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, accountID, followerID string) (*Follow, error) {
	row := q.QueryRowContext(ctx, `SELECT `+followColumns+` FROM follows WHERE account_id = ? AND follower_id = ?`, accountID, followerID)
	return scanFollow(row)
}

// ApproveFollow sets approved_at = now if it is not already set,
// idempotently: applying Accept{Follow} twice leaves approved_at unchanged
// after the first application.
func ApproveFollow(ctx context.Context, tx *sql.Tx, url string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE follows SET approved_at = ?, updated_at = ? WHERE url = ? AND approved_at IS NULL`,
		time.Now().Unix(), time.Now().Unix(), url,
	)
	if err != nil {
		return fmt.Errorf("failed to approve follow: %w", err)
	}
	return nil
}

// DeleteFollowByURL removes a follow, used by Reject{Follow} and
// Undo{Follow}.
func DeleteFollowByURL(ctx context.Context, tx *sql.Tx, url string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM follows WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}
	return nil
}

// FollowerInboxRow is one row of the follower-fan-out inbox resolution for
// a post's author: the follower's inbox URL, preferring the shared inbox
// when present.
type FollowerInboxRow struct {
	InboxURL string
}

// ListApprovedFollowerInboxes returns the deduplicated set of inbox URLs
// (shared inbox preferred) belonging to accountID's approved followers.
func ListApprovedFollowerInboxes(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, accountID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT COALESCE(actors.shared_inbox_url, actors.inbox_url)
		FROM follows
		JOIN actors ON actors.id = follows.follower_id
		WHERE follows.account_id = ? AND follows.approved_at IS NOT NULL`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list follower inboxes: %w", err)
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, fmt.Errorf("failed to scan inbox: %w", err)
		}
		inboxes = append(inboxes, inbox)
	}

	return inboxes, rows.Err()
}

// ListApprovedFollowerURLs returns the actor IDs (not inbox URLs) of
// accountID's approved followers, newest-approved first, for rendering the
// followers collection.
func ListApprovedFollowerURLs(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, accountID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT actors.url
		FROM follows
		JOIN actors ON actors.id = follows.follower_id
		WHERE follows.account_id = ? AND follows.approved_at IS NOT NULL
		ORDER BY follows.approved_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list follower urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan follower url: %w", err)
		}
		urls = append(urls, u)
	}

	return urls, rows.Err()
}
