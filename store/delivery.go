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
	"time"
)

// RecordDelivery marks (activityID, inboxURL) as delivered. A duplicate
// pair is a no-op, so a retried delivery job does not double-count or
// re-deliver to an inbox it already reached.
func RecordDelivery(ctx context.Context, tx *sql.Tx, activityID, inboxURL string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deliveries (activity_id, inbox_url, delivered_at) VALUES (?, ?, ?)
		ON CONFLICT (activity_id, inbox_url) DO NOTHING`,
		activityID, inboxURL, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// WasDelivered reports whether activityID has already been delivered to
// inboxURL.
func WasDelivered(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, activityID, inboxURL string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM deliveries WHERE activity_id = ? AND inbox_url = ?`, activityID, inboxURL).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check delivery: %w", err)
	}
	return true, nil
}

// UndeliveredInboxes filters candidateInboxes down to the ones activityID
// has not yet been delivered to.
func UndeliveredInboxes(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, activityID string, candidateInboxes []string) ([]string, error) {
	if len(candidateInboxes) == 0 {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx, `SELECT inbox_url FROM deliveries WHERE activity_id = ?`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	delivered := make(map[string]struct{})
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		delivered[inbox] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var remaining []string
	for _, inbox := range candidateInboxes {
		if _, ok := delivered[inbox]; !ok {
			remaining = append(remaining, inbox)
		}
	}

	return remaining, nil
}
