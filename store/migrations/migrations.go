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

// Package migrations creates and upgrades the object store's schema.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	name string
	sql  string
}

var migrationList = []migration{
	{"schema_version", `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`},
	{"actors", `
		CREATE TABLE IF NOT EXISTS actors (
			id TEXT NOT NULL PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			domain TEXT,
			display_name TEXT,
			note TEXT,
			locked INTEGER NOT NULL DEFAULT 0,
			inbox_url TEXT NOT NULL,
			shared_inbox_url TEXT,
			outbox_url TEXT,
			followers_url TEXT,
			following_url TEXT,
			featured_url TEXT,
			public_key_pem TEXT NOT NULL,
			private_key_pem TEXT,
			published_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			CHECK ((domain IS NULL) = (private_key_pem IS NOT NULL))
		)
	`},
	{"actors_domain_idx", `CREATE INDEX IF NOT EXISTS idx_actors_domain ON actors(domain)`},
	{"actors_username_domain_idx", `CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_username_domain ON actors(username, COALESCE(domain, ''))`},

	{"local_users", `
		CREATE TABLE IF NOT EXISTS local_users (
			actor_id TEXT NOT NULL PRIMARY KEY REFERENCES actors(id) ON DELETE CASCADE,
			email TEXT,
			password_hash TEXT,
			confirmation_token TEXT,
			confirmed_at INTEGER,
			oidc_subject TEXT,
			role TEXT NOT NULL DEFAULT 'user',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`},

	{"posts", `
		CREATE TABLE IF NOT EXISTS posts (
			id TEXT NOT NULL PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
			url TEXT NOT NULL UNIQUE,
			in_reply_to_id TEXT REFERENCES posts(id) ON DELETE SET NULL,
			reposted_post_id TEXT REFERENCES posts(id) ON DELETE SET NULL,
			subject TEXT,
			content TEXT NOT NULL DEFAULT '',
			content_source TEXT,
			language TEXT NOT NULL DEFAULT 'eng',
			visibility TEXT NOT NULL,
			is_sensitive INTEGER NOT NULL DEFAULT 0,
			is_local INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			CHECK (visibility IN ('Public', 'Unlisted', 'FollowerOnly', 'MentionOnly'))
		)
	`},
	{"posts_account_idx", `CREATE INDEX IF NOT EXISTS idx_posts_account_id ON posts(account_id)`},
	{"posts_in_reply_to_idx", `CREATE INDEX IF NOT EXISTS idx_posts_in_reply_to_id ON posts(in_reply_to_id)`},
	{"posts_created_at_idx", `CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at)`},

	{"mentions", `
		CREATE TABLE IF NOT EXISTS mentions (
			post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			account_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
			mention_text TEXT NOT NULL,
			PRIMARY KEY (post_id, account_id)
		)
	`},
	{"mentions_account_idx", `CREATE INDEX IF NOT EXISTS idx_mentions_account_id ON mentions(account_id)`},

	{"follows", `
		CREATE TABLE IF NOT EXISTS follows (
			id TEXT NOT NULL PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
			follower_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
			url TEXT NOT NULL UNIQUE,
			approved_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (account_id, follower_id)
		)
	`},
	{"follows_follower_idx", `CREATE INDEX IF NOT EXISTS idx_follows_follower_id ON follows(follower_id)`},

	{"favourites", `
		CREATE TABLE IF NOT EXISTS favourites (
			id TEXT NOT NULL PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
			post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			url TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			UNIQUE (account_id, post_id)
		)
	`},

	{"media_attachments", `
		CREATE TABLE IF NOT EXISTS media_attachments (
			id TEXT NOT NULL PRIMARY KEY,
			account_id TEXT REFERENCES actors(id) ON DELETE SET NULL,
			content_type TEXT NOT NULL,
			description TEXT,
			blurhash TEXT,
			file_path TEXT,
			remote_url TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			CHECK ((file_path IS NOT NULL) OR (remote_url IS NOT NULL))
		)
	`},

	{"post_media_attachments", `
		CREATE TABLE IF NOT EXISTS post_media_attachments (
			post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			media_attachment_id TEXT NOT NULL REFERENCES media_attachments(id) ON DELETE CASCADE,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (post_id, media_attachment_id)
		)
	`},

	{"custom_emoji", `
		CREATE TABLE IF NOT EXISTS custom_emoji (
			id TEXT NOT NULL PRIMARY KEY,
			remote_id TEXT,
			shortcode TEXT NOT NULL,
			domain TEXT,
			media_attachment_id TEXT NOT NULL REFERENCES media_attachments(id) ON DELETE CASCADE,
			endorsed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`},
	{"custom_emoji_shortcode_domain_idx", `CREATE UNIQUE INDEX IF NOT EXISTS idx_custom_emoji_shortcode_domain ON custom_emoji(shortcode, COALESCE(domain, ''))`},

	{"job_records", `
		CREATE TABLE IF NOT EXISTS job_records (
			id TEXT NOT NULL PRIMARY KEY,
			state TEXT NOT NULL DEFAULT 'Queued',
			run_at INTEGER NOT NULL,
			fail_count INTEGER NOT NULL DEFAULT 0,
			lease_expires_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			CHECK (state IN ('Queued', 'Running', 'Failed', 'Succeeded'))
		)
	`},
	{"job_records_claim_idx", `CREATE INDEX IF NOT EXISTS idx_job_records_claim ON job_records(state, run_at)`},

	{"job_contexts", `
		CREATE TABLE IF NOT EXISTS job_contexts (
			id TEXT NOT NULL PRIMARY KEY REFERENCES job_records(id) ON DELETE CASCADE,
			context_json TEXT NOT NULL
		)
	`},

	{"deliveries", `
		CREATE TABLE IF NOT EXISTS deliveries (
			activity_id TEXT NOT NULL,
			inbox_url TEXT NOT NULL,
			delivered_at INTEGER NOT NULL,
			PRIMARY KEY (activity_id, inbox_url)
		)
	`},

	{"federation_servers", `
		CREATE TABLE IF NOT EXISTS federation_servers (
			host TEXT NOT NULL PRIMARY KEY,
			last_seen_at INTEGER NOT NULL
		)
	`},

	{"inbox_activities", `
		CREATE TABLE IF NOT EXISTS inbox_activities (
			activity_id TEXT NOT NULL PRIMARY KEY,
			received_at INTEGER NOT NULL
		)
	`},
}

// Run applies every migration in order. Each statement uses CREATE TABLE/
// INDEX IF NOT EXISTS, so Run is idempotent and safe to call on every
// process start.
func Run(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range migrationList {
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %q failed: %w", m.name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM schema_version)`, len(migrationList)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}
