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

package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/store"
)

// activityStreamsContext is the @context every outbound document declares,
// matching deliver's plain string-literal convention.
const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// actorToAP renders a local or remote actor row as its ActivityPub actor
// document.
func actorToAP(a *store.Actor, scheme string) *ap.Actor {
	out := &ap.Actor{
		Context:           activityStreamsContext,
		ID:                a.URL,
		Type:              ap.Person,
		Inbox:             a.InboxURL,
		PreferredUsername: a.Username,
		ManuallyApprovesFollowers: a.Locked,
		PublicKey: ap.PublicKey{
			ID:           a.URL + "#main-key",
			Owner:        a.URL,
			PublicKeyPem: a.PublicKeyPEM,
		},
	}

	if a.OutboxURL.Valid {
		out.Outbox = a.OutboxURL.String
	}
	if a.FollowersURL.Valid {
		out.Followers = a.FollowersURL.String
	}
	if a.SharedInboxURL.Valid {
		out.Endpoints = map[string]string{"sharedInbox": a.SharedInboxURL.String}
	}
	if a.DisplayName.Valid {
		out.Name = a.DisplayName.String
	}
	if a.Note.Valid {
		out.Summary = a.Note.String
	}
	if a.PublishedAt.Valid {
		out.Published = ap.Time{Time: time.Unix(a.PublishedAt.Int64, 0).UTC()}
	}

	return out
}

// noteFromPost renders a post as its Note object, the same shape deliver's
// unexported noteFromPost builds for outbound delivery: an outbox entry
// and the activity actually delivered to followers must render identically.
func noteFromPost(ctx context.Context, db interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, p *store.Post, author *store.Actor) *ap.Object {
	o := &ap.Object{
		ID:           p.URL,
		Type:         ap.Note,
		AttributedTo: author.URL,
		Content:      p.Content,
		Sensitive:    p.IsSensitive,
		Published:    ap.Time{Time: time.Unix(p.CreatedAt, 0).UTC()},
		To:           audienceFor(p),
	}
	if p.Subject.Valid {
		o.Summary = p.Subject.String
	}
	if p.InReplyToID.Valid {
		if parent, err := store.GetPostByID(ctx, db, p.InReplyToID.String); err == nil {
			o.InReplyTo = parent.URL
		}
	}
	return o
}

func audienceFor(p *store.Post) ap.Audience {
	var a ap.Audience
	if p.Visibility == store.Public {
		a.Add(ap.Public)
	}
	return a
}

// activityFor wraps a post as the activity it was (or would be) delivered
// as: a repost renders as the Announce its row represents, anything else
// renders as the Create deliver's handleCreate builds, with the matching
// "<post url>/activity" id convention so a post's outbox entry and its
// delivered activity carry the same id.
func activityFor(ctx context.Context, s *store.Store, p *store.Post, author *store.Actor) *ap.Activity {
	if p.RepostedPostID.Valid {
		targetURL := p.RepostedPostID.String
		if target, err := store.GetPostByID(ctx, s.DB, p.RepostedPostID.String); err == nil {
			targetURL = target.URL
		}

		return &ap.Activity{
			Context: activityStreamsContext,
			ID:      p.URL,
			Type:    ap.Announce,
			Actor:   author.URL,
			Object:  targetURL,
			To:      audienceFor(p),
		}
	}

	return &ap.Activity{
		Context: activityStreamsContext,
		ID:      p.URL + "/activity",
		Type:    ap.Create,
		Actor:   author.URL,
		Object:  noteFromPost(ctx, s.DB, p, author),
		To:      audienceFor(p),
	}
}
