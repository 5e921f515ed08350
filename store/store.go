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

// Package store implements the relational object store (C4): actors,
// posts, follows, favourites, media attachments, custom emoji, the job
// queue's backing tables and delivery dedup bookkeeping.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corvidfed/fedcore/config"
)

// Store wraps a connection pool to the object store.
type Store struct {
	DB *sql.DB
}

// Open opens (and does not migrate) the object store described by cfg.
func Open(cfg *config.Database) (*Store, error) {
	dsn := fmt.Sprintf("%s?%s", cfg.Path, cfg.Options)
	if !strings.Contains(cfg.Options, "_foreign_keys") && !strings.Contains(cfg.Options, "_fk") {
		// SQLite leaves foreign key enforcement off per connection unless
		// asked, and the schema's ON DELETE actions depend on it.
		dsn += "&_foreign_keys=1"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Store{DB: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// WithTx runs f inside a transaction, committing on success and rolling
// back on error or panic. Transactions guarantee all-or-nothing commit.
func (s *Store) WithTx(ctx context.Context, f func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return f(tx)
}

// WithConn runs f against a single connection from the pool. No transaction
// is opened, so each statement f runs sees its own snapshot.
func (s *Store) WithConn(ctx context.Context, f func(conn *sql.Conn) error) error {
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	return f(conn)
}
