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

// Actor is a local or remote ActivityPub participant.
type Actor struct {
	ID             string
	URL            string
	Username       string
	Domain         sql.NullString
	DisplayName    sql.NullString
	Note           sql.NullString
	Locked         bool
	InboxURL       string
	SharedInboxURL sql.NullString
	OutboxURL      sql.NullString
	FollowersURL   sql.NullString
	FollowingURL   sql.NullString
	FeaturedURL    sql.NullString
	PublicKeyPEM   string
	PrivateKeyPEM  sql.NullString
	PublishedAt    sql.NullInt64
	CreatedAt      int64
	UpdatedAt      int64
}

// IsLocal reports whether a is a local actor, per the invariant local ⇔
// private_key_pem IS NOT NULL ⇔ domain IS NULL.
func (a *Actor) IsLocal() bool {
	return !a.Domain.Valid
}

// ErrActorNotFound is returned when no actor matches the lookup.
var ErrActorNotFound = errors.New("actor not found")

// InsertActor inserts a new actor row, assigning a time-ordered id if empty.
func InsertActor(ctx context.Context, tx *sql.Tx, a *Actor) error {
	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate actor id: %w", err)
		}
		a.ID = id.String()
	}

	now := time.Now().Unix()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO actors (
			id, url, username, domain, display_name, note, locked,
			inbox_url, shared_inbox_url, outbox_url, followers_url, following_url, featured_url,
			public_key_pem, private_key_pem, published_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.URL, a.Username, a.Domain, a.DisplayName, a.Note, a.Locked,
		a.InboxURL, a.SharedInboxURL, a.OutboxURL, a.FollowersURL, a.FollowingURL, a.FeaturedURL,
		a.PublicKeyPEM, a.PrivateKeyPEM, a.PublishedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert actor: %w", err)
	}

	return nil
}

func scanActor(row interface{ Scan(...any) error }) (*Actor, error) {
	var a Actor
	err := row.Scan(
		&a.ID, &a.URL, &a.Username, &a.Domain, &a.DisplayName, &a.Note, &a.Locked,
		&a.InboxURL, &a.SharedInboxURL, &a.OutboxURL, &a.FollowersURL, &a.FollowingURL, &a.FeaturedURL,
		&a.PublicKeyPEM, &a.PrivateKeyPEM, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan actor: %w", err)
	}
	return &a, nil
}

const actorColumns = `
	id, url, username, domain, display_name, note, locked,
	inbox_url, shared_inbox_url, outbox_url, followers_url, following_url, featured_url,
	public_key_pem, private_key_pem, published_at, created_at, updated_at`

// GetActorByURL looks up an actor by its canonical URL.
func GetActorByURL(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, url string) (*Actor, error) {
	row := q.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE url = ?`, url)
	return scanActor(row)
}

// GetActorByID looks up an actor by id.
func GetActorByID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*Actor, error) {
	row := q.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = ?`, id)
	return scanActor(row)
}

// GetLocalActorByUsername looks up a local actor (domain IS NULL) by
// username.
func GetLocalActorByUsername(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, username string) (*Actor, error) {
	row := q.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE username = ? AND domain IS NULL`, username)
	return scanActor(row)
}

// UpdateActorProfile replaces the mutable profile fields of a remote actor
// in response to an inbound Update{Person}.
func UpdateActorProfile(ctx context.Context, tx *sql.Tx, a *Actor) error {
	a.UpdatedAt = time.Now().Unix()

	_, err := tx.ExecContext(ctx, `
		UPDATE actors SET
			display_name = ?, note = ?, locked = ?,
			inbox_url = ?, shared_inbox_url = ?, outbox_url = ?, followers_url = ?, following_url = ?, featured_url = ?,
			public_key_pem = ?, updated_at = ?
		WHERE id = ?`,
		a.DisplayName, a.Note, a.Locked,
		a.InboxURL, a.SharedInboxURL, a.OutboxURL, a.FollowersURL, a.FollowingURL, a.FeaturedURL,
		a.PublicKeyPEM, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update actor: %w", err)
	}

	return nil
}

// DeleteActor removes an actor and everything it owns (cascades via FKs).
// Deletion is a hard delete: remote actors that reappear are re-fetched and
// re-inserted with a new id, matching the spec's "never deleted by the
// core" lifecycle for ordinary staleness but allowing an explicit inbound
// Delete{actor} (§4.6) to fully retire a tombstoned account rather than
// leaving an orphaned row with no working keys to verify future requests.
func DeleteActor(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete actor: %w", err)
	}
	return nil
}

// TouchActorPublishedAt updates published_at to the value declared in a
// freshly (re)fetched remote document.
func TouchActorPublishedAt(ctx context.Context, tx *sql.Tx, id string, publishedAt int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE actors SET published_at = ?, updated_at = ? WHERE id = ?`, publishedAt, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to touch actor: %w", err)
	}
	return nil
}
