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

// TouchFederationServer records that host was successfully reached just
// now, inserting a row on first contact.
func TouchFederationServer(ctx context.Context, tx *sql.Tx, host string) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO federation_servers (host, last_seen_at) VALUES (?, ?)
		ON CONFLICT (host) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
		host, now,
	)
	if err != nil {
		return fmt.Errorf("failed to touch federation server %s: %w", host, err)
	}
	return nil
}

// LastSeenFederationServer returns the unix timestamp host was last
// reached, or false if it has never been seen.
func LastSeenFederationServer(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, host string) (int64, bool, error) {
	var lastSeen int64
	err := q.QueryRowContext(ctx, `SELECT last_seen_at FROM federation_servers WHERE host = ?`, host).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up federation server %s: %w", host, err)
	}
	return lastSeen, true, nil
}

// IsStale reports whether host either has never been seen, or was last
// seen more than staleness ago.
func IsStale(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, host string, staleness time.Duration, now time.Time) (bool, error) {
	lastSeen, ok, err := LastSeenFederationServer(ctx, q, host)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Unix()-lastSeen > int64(staleness.Seconds()), nil
}
