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
	"strings"
	"time"

	"github.com/google/uuid"
)

// Post is an ActivityPub Note-shaped object.
type Post struct {
	ID             string
	AccountID      string
	URL            string
	InReplyToID    sql.NullString
	RepostedPostID sql.NullString
	Subject        sql.NullString
	Content        string
	ContentSource  sql.NullString
	Language       string
	Visibility     Visibility
	IsSensitive    bool
	IsLocal        bool
	CreatedAt      int64
	UpdatedAt      int64
}

// ErrPostNotFound is returned when no post matches the lookup.
var ErrPostNotFound = errors.New("post not found")

const postColumns = `
	id, account_id, url, in_reply_to_id, reposted_post_id,
	subject, content, content_source, language, visibility, is_sensitive, is_local,
	created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*Post, error) {
	var p Post
	err := row.Scan(
		&p.ID, &p.AccountID, &p.URL, &p.InReplyToID, &p.RepostedPostID,
		&p.Subject, &p.Content, &p.ContentSource, &p.Language, &p.Visibility, &p.IsSensitive, &p.IsLocal,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}
	return &p, nil
}

// InsertPost inserts a new post, enforcing the repost-body and
// reply-linkage invariants named in §3: a repost carries no content of its
// own, and an in_reply_to_id must reference an existing row (or be null).
func InsertPost(ctx context.Context, tx *sql.Tx, p *Post) error {
	if p.RepostedPostID.Valid && p.Content != "" {
		return errors.New("reposted post must have empty content")
	}

	if p.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate post id: %w", err)
		}
		p.ID = id.String()
	}

	now := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if p.Language == "" {
		p.Language = "eng"
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO posts (
			id, account_id, url, in_reply_to_id, reposted_post_id,
			subject, content, content_source, language, visibility, is_sensitive, is_local,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, p.URL, p.InReplyToID, p.RepostedPostID,
		p.Subject, p.Content, p.ContentSource, p.Language, p.Visibility, p.IsSensitive, p.IsLocal,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil // inbound Create with an id already persisted is a no-op
		}
		return fmt.Errorf("failed to insert post: %w", err)
	}

	return nil
}

// GetPostByURL looks up a post by its canonical URL.
func GetPostByURL(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, url string) (*Post, error) {
	row := q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE url = ?`, url)
	return scanPost(row)
}

// GetPostByID looks up a post by id.
func GetPostByID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (*Post, error) {
	row := q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	return scanPost(row)
}

// UpdatePostContent replaces the editable fields of a post in response to
// an inbound Update{Note} or a local edit.
func UpdatePostContent(ctx context.Context, tx *sql.Tx, id, subject, content, contentSource, language string, isSensitive bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE posts SET subject = ?, content = ?, content_source = ?, language = ?, is_sensitive = ?, updated_at = ?
		WHERE id = ?`,
		nullIfEmpty(subject), content, nullIfEmpty(contentSource), language, isSensitive, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	return nil
}

// DeletePost removes a post; cascades NULL out in_reply_to/reposted_post_id
// references and deletes owned Favourite/Mention rows via FK actions.
func DeletePost(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// ListPostsByAccount returns up to limit posts by account, newest first,
// filtered by the given visibility predicate (empty FetchingAccountID for
// an unauthenticated viewer).
func ListPostsByAccount(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, accountID string, vis VisibilityFilter, limit int) ([]*Post, error) {
	predicate, args := vis.Predicate()

	query := fmt.Sprintf(`SELECT %s FROM posts WHERE account_id = ? AND %s ORDER BY created_at DESC LIMIT ?`, postColumns, predicate)
	args = append([]any{accountID}, args...)
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	return posts, rows.Err()
}

// ListPostsByAccountPage returns a keyset page of a local account's posts,
// ordered by id (time-ordered UUIDv7, so id order agrees with created_at
// order): strictly below maxID if given, else strictly above minID if
// given, else the newest page. Exactly one of minID/maxID should be
// non-empty; if both are, maxID takes precedence, matching the outbox
// handler's own precedence between the two query parameters.
func ListPostsByAccountPage(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, accountID string, vis VisibilityFilter, minID, maxID string, limit int) ([]*Post, error) {
	predicate, args := vis.Predicate()

	cursor := ""
	switch {
	case maxID != "":
		cursor = "AND posts.id < ?"
		args = append(args, maxID)
	case minID != "":
		cursor = "AND posts.id > ?"
		args = append(args, minID)
	}

	order := "DESC"
	if cursor != "" && maxID == "" {
		// paging forward from min_id still returns the oldest-of-the-newer
		// page first, matching the outbox's default newest-first order.
		order = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM posts WHERE account_id = ? AND %s %s ORDER BY posts.id %s LIMIT ?`, postColumns, predicate, cursor, order)
	args = append([]any{accountID}, args...)
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts page: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if order == "ASC" {
		for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
			posts[i], posts[j] = posts[j], posts[i]
		}
	}

	return posts, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
