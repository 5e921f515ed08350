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

// Favourite is a Like applied to a post.
type Favourite struct {
	ID        string
	AccountID string
	PostID    string
	URL       string
	CreatedAt int64
}

// ErrFavouriteNotFound is returned when no favourite matches the lookup.
var ErrFavouriteNotFound = errors.New("favourite not found")

// InsertFavourite inserts a Favourite row. A duplicate (account_id,
// post_id) pair is a no-op, matching Like's idempotent-application intent.
func InsertFavourite(ctx context.Context, tx *sql.Tx, f *Favourite) error {
	if f.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate favourite id: %w", err)
		}
		f.ID = id.String()
	}
	f.CreatedAt = time.Now().Unix()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO favourites (id, account_id, post_id, url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, post_id) DO NOTHING`,
		f.ID, f.AccountID, f.PostID, f.URL, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert favourite: %w", err)
	}

	return nil
}

// GetFavouriteByID looks up a favourite by its row id, used by the
// delivery engine to re-read current state from a job payload that carries
// only the id.
func GetFavouriteByID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*Favourite, error) {
	var f Favourite
	err := q.QueryRowContext(ctx, `SELECT id, account_id, post_id, url, created_at FROM favourites WHERE id = ?`, id).
		Scan(&f.ID, &f.AccountID, &f.PostID, &f.URL, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFavouriteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan favourite: %w", err)
	}
	return &f, nil
}

// GetFavouriteByURL looks up a favourite by its Like activity URL.
func GetFavouriteByURL(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, url string) (*Favourite, error) {
	var f Favourite
	err := q.QueryRowContext(ctx, `SELECT id, account_id, post_id, url, created_at FROM favourites WHERE url = ?`, url).
		Scan(&f.ID, &f.AccountID, &f.PostID, &f.URL, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFavouriteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan favourite: %w", err)
	}
	return &f, nil
}

// DeleteFavouriteByURL removes a favourite, used by Undo{Like}.
func DeleteFavouriteByURL(ctx context.Context, tx *sql.Tx, url string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM favourites WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("failed to delete favourite: %w", err)
	}
	return nil
}
