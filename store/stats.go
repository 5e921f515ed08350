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

// CountLocalActors returns the number of local actors (domain IS NULL),
// the "total users" counter a NodeInfo document reports.
func CountLocalActors(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM actors WHERE domain IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count local actors: %w", err)
	}
	return n, nil
}

// CountLocalPosts returns the number of posts authored by a local actor.
func CountLocalPosts(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE is_local = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count local posts: %w", err)
	}
	return n, nil
}
