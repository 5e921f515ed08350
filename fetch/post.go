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

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/store"
)

// FetchPost resolves a remote post by canonical URL, recursing into its
// reply chain up to MaxDepth levels. Past the bound, it returns
// (nil, nil): absent, not an error, matching a missing leaf of a chain
// too deep to be worth the round trips.
func (f *Fetcher) FetchPost(ctx context.Context, url string, depth int) (*store.Post, error) {
	if depth > f.MaxDepth {
		return nil, nil
	}

	authority, err := parseIDAuthority(url)
	if err != nil {
		return nil, apperr.New(apperr.UrlParse, err)
	}

	// The host lock only guards the cache-check-then-fetch-over-wire
	// section: it must not be held across the recursive FetchActor/FetchPost
	// calls below, which may need the very same per-host lock for the
	// author or an ancestor post on the same instance.
	l := f.hostLock(authority)
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}

	existing, err := store.GetPostByURL(ctx, f.Store.DB, url)
	if err == nil {
		l.Unlock()
		return existing, nil
	}
	if !errors.Is(err, store.ErrPostNotFound) {
		l.Unlock()
		return nil, apperr.New(apperr.DatabasePool, err)
	}

	body, fetchErr := f.get(ctx, url)
	if fetchErr != nil {
		l.Unlock()
		if errors.Is(fetchErr, ErrGone) || errors.Is(fetchErr, ErrNotFound) {
			return nil, nil
		}
		return nil, fetchErr
	}
	l.Unlock()

	var remote ap.Object
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil, apperr.New(apperr.InvalidDocument, err)
	}

	declaredAuthority, err := parseIDAuthority(remote.ID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidResponse, err)
	}
	if !sameOrSubdomainHost(declaredAuthority, authority) {
		return nil, apperr.New(apperr.InvalidResponse, fmt.Errorf("post id authority %s does not match fetched host %s", declaredAuthority, authority))
	}

	if remote.AttributedTo == "" {
		return nil, apperr.New(apperr.InvalidDocument, errors.New("post has no attributedTo"))
	}

	author, err := f.FetchActor(ctx, ActorOptions{ID: remote.AttributedTo})
	if err != nil {
		return nil, err
	}

	var inReplyToID sql.NullString
	if remote.InReplyTo != "" {
		parent, err := f.FetchPost(ctx, remote.InReplyTo, depth+1)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			inReplyToID = sql.NullString{String: parent.ID, Valid: true}
		}
	}

	p := &store.Post{
		AccountID:   author.ID,
		URL:         remote.ID,
		InReplyToID: inReplyToID,
		Content:     remote.Content,
		Visibility:  visibilityFromAudience(&remote),
		IsSensitive: remote.Sensitive,
		IsLocal:     false,
	}
	if remote.Summary != "" {
		p.Subject = sql.NullString{String: remote.Summary, Valid: true}
	}

	// Mentioned actors are resolved here, before the post's own transaction
	// opens: FetchActor runs its own WithTx, and starting a second write
	// transaction on the same connection pool from inside the post's
	// transaction callback would deadlock against it.
	mentions := resolveMentions(ctx, f, remote.Tag)

	err = f.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertPost(ctx, tx, p); err != nil {
			return err
		}
		for _, m := range mentions {
			if err := store.InsertMention(ctx, tx, &store.Mention{
				PostID:      p.ID,
				AccountID:   m.accountID,
				MentionText: m.text,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.DatabasePool, err)
	}

	got, err := store.GetPostByURL(ctx, f.Store.DB, p.URL)
	if err != nil {
		return nil, apperr.New(apperr.DatabasePool, err)
	}
	return got, nil
}

// visibilityFromAudience maps an object's to/cc addressing onto the local
// visibility classes: publicly addressed posts are Public, everything else
// with at least one explicit recipient is treated as Unlisted. Follower and
// mention-only classification happens when the activity wrapping this
// object is applied, where the actor's followers collection is known.
func visibilityFromAudience(o *ap.Object) store.Visibility {
	if o.IsPublic() {
		return store.Public
	}
	return store.Unlisted
}

type resolvedMention struct {
	accountID string
	text      string
}

// resolveMentions fetches the actor behind every Mention tag, skipping (not
// failing the post) any that cannot be reached.
func resolveMentions(ctx context.Context, f *Fetcher, tags []ap.Tag) []resolvedMention {
	var out []resolvedMention
	for _, tag := range tags {
		if tag.Type != ap.MentionMention || tag.Href == "" {
			continue
		}

		mentioned, err := f.FetchActor(ctx, ActorOptions{ID: tag.Href})
		if err != nil {
			continue
		}

		out = append(out, resolvedMention{accountID: mentioned.ID, text: tag.Name})
	}
	return out
}
