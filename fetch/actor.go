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

package fetch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/store"
)

// ActorOptions controls FetchActor's resolution strategy: either a direct
// ID, or an acct pair that goes through WebFinger first.
type ActorOptions struct {
	ID      string
	Acct    *Acct
	Refetch bool
}

// Acct is a WebFinger "acct:user@domain" identity.
type Acct struct {
	User   string
	Domain string
}

// FetchActor resolves an actor by direct ID or by acct, returning the
// cached or freshly fetched persisted row.
func (f *Fetcher) FetchActor(ctx context.Context, opts ActorOptions) (*store.Actor, error) {
	id := opts.ID
	if opts.Acct != nil {
		resolved, err := f.resolveWebFinger(ctx, opts.Acct.User, opts.Acct.Domain)
		if err != nil {
			return nil, err
		}
		id = resolved
	}

	if id == "" {
		return nil, apperr.New(apperr.InvalidDocument, errors.New("no actor id or acct given"))
	}

	authority, err := parseIDAuthority(id)
	if err != nil {
		return nil, apperr.New(apperr.UrlParse, err)
	}

	l := f.hostLock(authority)
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	defer l.Unlock()

	existing, err := store.GetActorByURL(ctx, f.Store.DB, id)
	if err != nil && !errors.Is(err, store.ErrActorNotFound) {
		return nil, apperr.New(apperr.DatabasePool, err)
	}

	if err == nil && !opts.Refetch {
		stale := existing.Domain.Valid && time.Since(time.Unix(existing.UpdatedAt, 0)) > f.ActorStalenessPeriod
		if !stale {
			return existing, nil
		}
	}

	body, fetchErr := f.get(ctx, id)
	if fetchErr != nil {
		if errors.Is(fetchErr, ErrGone) {
			if err == nil {
				if delErr := f.Store.WithTx(ctx, func(tx *sql.Tx) error {
					return store.DeleteActor(ctx, tx, existing.ID)
				}); delErr != nil {
					return nil, apperr.New(apperr.DatabasePool, delErr)
				}
			}
			return nil, ErrGone
		}
		if errors.Is(fetchErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		if err == nil {
			return existing, nil
		}
		return nil, fetchErr
	}

	var remote ap.Actor
	if jsonErr := json.Unmarshal(body, &remote); jsonErr != nil {
		return nil, apperr.New(apperr.InvalidDocument, jsonErr)
	}

	declaredAuthority, err := parseIDAuthority(remote.ID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidResponse, err)
	}
	if !sameOrSubdomainHost(declaredAuthority, authority) {
		return nil, apperr.New(apperr.InvalidResponse, fmt.Errorf("actor id authority %s does not match fetched host %s", declaredAuthority, authority))
	}

	a := &store.Actor{
		URL:          remote.ID,
		Username:     remote.PreferredUsername,
		Domain:       sql.NullString{String: declaredAuthority, Valid: true},
		InboxURL:     remote.Inbox,
		PublicKeyPEM: remote.PublicKey.PublicKeyPem,
		Locked:       remote.ManuallyApprovesFollowers,
	}
	if remote.Name != "" {
		a.DisplayName = sql.NullString{String: remote.Name, Valid: true}
	}
	if remote.Summary != "" {
		a.Note = sql.NullString{String: remote.Summary, Valid: true}
	}
	if shared, ok := remote.Endpoints["sharedInbox"]; ok && shared != "" {
		a.SharedInboxURL = sql.NullString{String: shared, Valid: true}
	}
	if remote.Outbox != "" {
		a.OutboxURL = sql.NullString{String: remote.Outbox, Valid: true}
	}
	if remote.Followers != "" {
		a.FollowersURL = sql.NullString{String: remote.Followers, Valid: true}
	}
	if !remote.Published.IsZero() {
		a.PublishedAt = sql.NullInt64{Int64: remote.Published.Unix(), Valid: true}
	}

	err = f.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if existing != nil {
			a.ID = existing.ID
			return store.UpdateActorProfile(ctx, tx, a)
		}
		return store.InsertActor(ctx, tx, a)
	})
	if err != nil {
		return nil, apperr.New(apperr.DatabasePool, err)
	}

	if existing == nil {
		got, getErr := store.GetActorByURL(ctx, f.Store.DB, a.URL)
		if getErr != nil {
			return nil, apperr.New(apperr.DatabasePool, getErr)
		}
		a = got
	} else {
		a.ID = existing.ID
	}

	if existing != nil && a.PublishedAt.Valid {
		_ = f.Store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.TouchActorPublishedAt(ctx, tx, a.ID, a.PublishedAt.Int64)
		})
	}

	return a, nil
}
