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

// RecordSeenActivity records id as processed, returning false without error
// if it was already recorded: the caller's dispatch becomes a no-op for a
// redelivered activity with the same id.
func RecordSeenActivity(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO inbox_activities (activity_id, received_at) VALUES (?, ?)
		ON CONFLICT (activity_id) DO NOTHING`,
		id, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record seen activity: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check seen activity insert: %w", err)
	}

	return n > 0, nil
}
