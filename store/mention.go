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
	"fmt"
)

// Mention links a post to an account it names, e.g. "@alice@example.com".
type Mention struct {
	PostID      string
	AccountID   string
	MentionText string
}

// InsertMention links postID to accountID. Duplicate (post_id, account_id)
// pairs are no-ops.
func InsertMention(ctx context.Context, tx *sql.Tx, m *Mention) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO mentions (post_id, account_id, mention_text) VALUES (?, ?, ?)
		ON CONFLICT (post_id, account_id) DO NOTHING`,
		m.PostID, m.AccountID, m.MentionText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert mention: %w", err)
	}
	return nil
}

// ListMentionedAccountIDs returns the ids of accounts mentioned in a post.
func ListMentionedAccountIDs(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, postID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT account_id FROM mentions WHERE post_id = ?`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListMentionedInboxes returns the deduplicated set of inbox URLs (shared
// inbox preferred) of the actors mentioned in a post.
func ListMentionedInboxes(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, postID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT COALESCE(actors.shared_inbox_url, actors.inbox_url)
		FROM mentions
		JOIN actors ON actors.id = mentions.account_id
		WHERE mentions.post_id = ?
		AND (actors.shared_inbox_url IS NOT NULL OR actors.inbox_url IS NOT NULL)`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentioned inboxes: %w", err)
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
