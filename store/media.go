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

// MediaAttachment is an image, video or audio attachment, either hosted
// locally (FilePath) or fetched from a remote instance (RemoteURL).
type MediaAttachment struct {
	ID          string
	AccountID   sql.NullString
	ContentType string
	Description sql.NullString
	// Blurhash is a hook only: the core persists and round-trips it but
	// never computes it (open question, see DESIGN.md).
	Blurhash  sql.NullString
	FilePath  sql.NullString
	RemoteURL sql.NullString
	CreatedAt int64
	UpdatedAt int64
}

// CustomEmoji is a shortcode-addressable custom emoji, local or federated.
type CustomEmoji struct {
	ID                string
	RemoteID          sql.NullString
	Shortcode         string
	Domain            sql.NullString
	MediaAttachmentID string
	Endorsed          bool
	CreatedAt         int64
	UpdatedAt         int64
}

var (
	ErrMediaAttachmentNotFound = errors.New("media attachment not found")
	ErrCustomEmojiNotFound     = errors.New("custom emoji not found")
)

// InsertMediaAttachment inserts a media attachment row.
func InsertMediaAttachment(ctx context.Context, tx *sql.Tx, m *MediaAttachment) error {
	if m.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate media attachment id: %w", err)
		}
		m.ID = id.String()
	}

	now := time.Now().Unix()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO media_attachments (id, account_id, content_type, description, blurhash, file_path, remote_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AccountID, m.ContentType, m.Description, m.Blurhash, m.FilePath, m.RemoteURL, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert media attachment: %w", err)
	}

	return nil
}

// AttachMediaToPost links a media attachment to a post at a given display
// position.
func AttachMediaToPost(ctx context.Context, tx *sql.Tx, postID, mediaAttachmentID string, position int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO post_media_attachments (post_id, media_attachment_id, position) VALUES (?, ?, ?)
		ON CONFLICT (post_id, media_attachment_id) DO NOTHING`,
		postID, mediaAttachmentID, position,
	)
	if err != nil {
		return fmt.Errorf("failed to attach media to post: %w", err)
	}
	return nil
}

// GetCustomEmojiByShortcode looks up a custom emoji by (shortcode, domain);
// domain empty means a local emoji.
func GetCustomEmojiByShortcode(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, shortcode, domain string) (*CustomEmoji, error) {
	var e CustomEmoji
	err := q.QueryRowContext(ctx, `
		SELECT id, remote_id, shortcode, domain, media_attachment_id, endorsed, created_at, updated_at
		FROM custom_emoji WHERE shortcode = ? AND COALESCE(domain, '') = ?`,
		shortcode, domain,
	).Scan(&e.ID, &e.RemoteID, &e.Shortcode, &e.Domain, &e.MediaAttachmentID, &e.Endorsed, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomEmojiNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan custom emoji: %w", err)
	}
	return &e, nil
}

// InsertCustomEmoji inserts a custom emoji row; a duplicate
// (shortcode, domain) pair is a no-op.
func InsertCustomEmoji(ctx context.Context, tx *sql.Tx, e *CustomEmoji) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate custom emoji id: %w", err)
		}
		e.ID = id.String()
	}

	now := time.Now().Unix()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO custom_emoji (id, remote_id, shortcode, domain, media_attachment_id, endorsed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (shortcode, COALESCE(domain, '')) DO NOTHING`,
		e.ID, e.RemoteID, e.Shortcode, e.Domain, e.MediaAttachmentID, e.Endorsed, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert custom emoji: %w", err)
	}

	return nil
}
