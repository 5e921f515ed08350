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

package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/fetch"
	"github.com/corvidfed/fedcore/store"
)

// handleCreate persists an inbound Note, resolving its author, reply
// parent and mentions first. A Note addressed to an author other than the
// activity's own actor (a group-relayed post) is accepted as long as the
// two share an origin, and the real author is re-resolved from
// attributedTo.
func (p *Processor) handleCreate(ctx context.Context, sender *store.Actor, obj *ap.Object) error {
	if !ap.IsIDValid(obj.ID) {
		return apperr.New(apperr.InvalidDocument, fmt.Errorf("invalid object id: %s", obj.ID))
	}

	author := sender
	if obj.AttributedTo != "" && obj.AttributedTo != sender.URL {
		a, err := p.Fetcher.FetchActor(ctx, fetch.ActorOptions{ID: obj.AttributedTo})
		if err != nil {
			return err
		}
		author = a
	}

	var inReplyToID sql.NullString
	if obj.InReplyTo != "" {
		parent, err := p.Fetcher.FetchPost(ctx, obj.InReplyTo, 0)
		if err != nil {
			return err
		}
		if parent != nil {
			inReplyToID = sql.NullString{String: parent.ID, Valid: true}
		}
	}

	mentions := p.resolveMentions(ctx, obj.Tag)

	post := &store.Post{
		AccountID:   author.ID,
		URL:         obj.ID,
		InReplyToID: inReplyToID,
		Content:     obj.Content,
		Visibility:  visibilityFor(obj, author),
		IsSensitive: obj.Sensitive,
		IsLocal:     false,
	}
	if obj.Summary != "" {
		post.Subject = sql.NullString{String: obj.Summary, Valid: true}
	}

	return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertPost(ctx, tx, post); err != nil {
			return err
		}
		for _, m := range mentions {
			if err := store.InsertMention(ctx, tx, &store.Mention{
				PostID:      post.ID,
				AccountID:   m.accountID,
				MentionText: m.text,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// handleUpdateNote replaces an existing post's editable fields. An Update
// for a post we haven't seen yet is treated as the Create we missed.
func (p *Processor) handleUpdateNote(ctx context.Context, sender *store.Actor, obj *ap.Object) error {
	existing, err := store.GetPostByURL(ctx, p.Store.DB, obj.ID)
	if errors.Is(err, store.ErrPostNotFound) {
		return p.handleCreate(ctx, sender, obj)
	}
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	if existing.AccountID != sender.ID {
		return apperr.New(apperr.InvalidDocument, errors.New("update: sender does not own the post"))
	}

	return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpdatePostContent(ctx, tx, existing.ID, obj.Summary, obj.Content, "", existing.Language, obj.Sensitive)
	})
}

// handleUpdateActor refetches the sender's own profile, reusing FetchActor's
// refetch path instead of duplicating its field-by-field replacement logic.
func (p *Processor) handleUpdateActor(ctx context.Context, sender *store.Actor, actorID string) error {
	if actorID != sender.URL {
		return apperr.New(apperr.InvalidDocument, errors.New("update: actor id does not match sender"))
	}

	_, err := p.Fetcher.FetchActor(ctx, fetch.ActorOptions{ID: actorID, Refetch: true})
	return err
}

// handleDelete removes the sender's own actor record, or one of their
// posts. Deleting an object we never stored is a silent no-op.
func (p *Processor) handleDelete(ctx context.Context, sender *store.Actor, activity *ap.Activity) error {
	targetID, err := objectID(activity.Object)
	if err != nil {
		return apperr.New(apperr.InvalidDocument, err)
	}

	if targetID == sender.URL {
		return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.DeleteActor(ctx, tx, sender.ID)
		})
	}

	post, err := store.GetPostByURL(ctx, p.Store.DB, targetID)
	if errors.Is(err, store.ErrPostNotFound) {
		return nil
	}
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}
	if post.AccountID != sender.ID {
		return apperr.New(apperr.InvalidDocument, errors.New("delete: sender does not own the post"))
	}

	return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.DeletePost(ctx, tx, post.ID)
	})
}

// handleFollow records a follow request against a local target, approving
// it immediately unless the target is locked, and enqueuing the Accept
// delivery for an immediate approval.
func (p *Processor) handleFollow(ctx context.Context, sender *store.Actor, activity *ap.Activity) error {
	targetURL, ok := activity.Object.(string)
	if !ok || targetURL == "" {
		return apperr.New(apperr.InvalidDocument, errors.New("follow: object is not a valid actor id"))
	}

	target, err := store.GetActorByURL(ctx, p.Store.DB, targetURL)
	if errors.Is(err, store.ErrActorNotFound) {
		return apperr.New(apperr.InvalidDocument, fmt.Errorf("follow: unknown target %s", targetURL))
	}
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}
	if !target.IsLocal() {
		return apperr.New(apperr.InvalidDocument, errors.New("follow: target is not local"))
	}

	approved := !target.Locked

	return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		f := &store.Follow{AccountID: target.ID, FollowerID: sender.ID, URL: activity.ID}
		if err := store.InsertFollow(ctx, tx, f, approved); err != nil {
			return err
		}

		if !approved {
			return nil
		}

		// InsertFollow no-ops on a pre-existing (account, follower) pair, so
		// f.ID may not be the row's real id: re-read it before delivering.
		got, err := store.GetFollow(ctx, tx, target.ID, sender.ID)
		if err != nil {
			return err
		}

		_, err = p.Deliver.DeliverAccept(ctx, tx, got.ID)
		return err
	})
}

// respondToFollow applies Accept or Reject to the matching Follow row,
// verifying the signer is the actor being followed. apply is
// store.ApproveFollow for Accept and store.DeleteFollowByURL for Reject:
// both share the (ctx, tx, url) signature.
func (p *Processor) respondToFollow(ctx context.Context, sender *store.Actor, activity *ap.Activity, apply func(context.Context, *sql.Tx, string) error) error {
	followID, err := extractFollowID(activity.Object)
	if err != nil {
		return apperr.New(apperr.InvalidDocument, err)
	}

	return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		follow, err := store.GetFollowByURL(ctx, tx, followID)
		if errors.Is(err, store.ErrFollowNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if follow.AccountID != sender.ID {
			return apperr.New(apperr.InvalidDocument, errors.New("accept/reject: sender does not own the follow target"))
		}

		return apply(ctx, tx, followID)
	})
}

// handleUndo reverses a previously applied Follow, Like or Announce,
// verifying the original actor matches the signer.
func (p *Processor) handleUndo(ctx context.Context, sender *store.Actor, activity *ap.Activity) error {
	inner, ok := activity.Object.(*ap.Activity)
	if !ok {
		return apperr.New(apperr.InvalidDocument, errors.New("undo: object is not an activity"))
	}

	switch inner.Type {
	case ap.Follow:
		return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
			follow, err := store.GetFollowByURL(ctx, tx, inner.ID)
			if errors.Is(err, store.ErrFollowNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if follow.FollowerID != sender.ID {
				return apperr.New(apperr.InvalidDocument, errors.New("undo follow: sender is not the follower"))
			}
			return store.DeleteFollowByURL(ctx, tx, inner.ID)
		})

	case ap.Like:
		return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
			fav, err := store.GetFavouriteByURL(ctx, tx, inner.ID)
			if errors.Is(err, store.ErrFavouriteNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if fav.AccountID != sender.ID {
				return apperr.New(apperr.InvalidDocument, errors.New("undo like: sender does not own the favourite"))
			}
			return store.DeleteFavouriteByURL(ctx, tx, inner.ID)
		})

	case ap.Announce:
		return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
			post, err := store.GetPostByURL(ctx, tx, inner.ID)
			if errors.Is(err, store.ErrPostNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if post.AccountID != sender.ID {
				return apperr.New(apperr.InvalidDocument, errors.New("undo announce: sender does not own the repost"))
			}
			return store.DeletePost(ctx, tx, post.ID)
		})

	default:
		return nil
	}
}

// handleLike records a Favourite against a post we already know about.
// An unknown target is a silent no-op, not an error.
func (p *Processor) handleLike(ctx context.Context, sender *store.Actor, activity *ap.Activity) error {
	targetURL, ok := activity.Object.(string)
	if !ok || targetURL == "" {
		return apperr.New(apperr.InvalidDocument, errors.New("like: object is not a valid post id"))
	}

	post, err := store.GetPostByURL(ctx, p.Store.DB, targetURL)
	if errors.Is(err, store.ErrPostNotFound) {
		return nil
	}
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertFavourite(ctx, tx, &store.Favourite{
			AccountID: sender.ID,
			PostID:    post.ID,
			URL:       activity.ID,
		})
	})
}

// handleAnnounce records a repost. The repost row's own URL is set to the
// Announce activity's id, not the target post's, so a later Undo{Announce}
// can find it again by the same id.
func (p *Processor) handleAnnounce(ctx context.Context, sender *store.Actor, activity *ap.Activity) error {
	targetURL, ok := activity.Object.(string)
	if !ok || targetURL == "" {
		return apperr.New(apperr.InvalidDocument, errors.New("announce: object is not a valid post id"))
	}

	target, err := p.Fetcher.FetchPost(ctx, targetURL, 0)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}

	vis := store.Unlisted
	if activity.IsPublic() {
		vis = store.Public
	}

	return p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertPost(ctx, tx, &store.Post{
			AccountID:      sender.ID,
			URL:            activity.ID,
			RepostedPostID: sql.NullString{String: target.ID, Valid: true},
			Visibility:     vis,
			IsLocal:        false,
		})
	})
}

// objectID extracts an id from an activity's object, whatever shape it
// arrived in.
func objectID(object any) (string, error) {
	switch v := object.(type) {
	case string:
		if v == "" {
			return "", errors.New("empty object id")
		}
		return v, nil
	case *ap.Object:
		if v.ID == "" {
			return "", errors.New("empty object id")
		}
		return v.ID, nil
	default:
		return "", fmt.Errorf("unsupported object type: %T", object)
	}
}

// extractFollowID pulls a Follow activity's id out of an Accept/Reject's
// object, which may arrive as a bare string or a nested Follow activity.
func extractFollowID(object any) (string, error) {
	switch v := object.(type) {
	case string:
		if v == "" {
			return "", errors.New("empty follow id")
		}
		return v, nil
	case *ap.Activity:
		if v.Type != ap.Follow {
			return "", fmt.Errorf("expected a Follow activity, got %s", v.Type)
		}
		if v.ID == "" {
			return "", errors.New("empty follow id")
		}
		return v.ID, nil
	default:
		return "", fmt.Errorf("unsupported object type: %T", object)
	}
}

// visibilityFor classifies an inbound Note's visibility from its
// addressing, resolving the follower-only and mention-only cases that
// fetch.FetchPost's equivalent helper leaves as plain Unlisted, since it
// has no caller-supplied author to check a followers collection against.
func visibilityFor(obj *ap.Object, author *store.Actor) store.Visibility {
	if obj.IsPublic() {
		return store.Public
	}

	if author.FollowersURL.Valid {
		if obj.To.Contains(author.FollowersURL.String) || obj.CC.Contains(author.FollowersURL.String) {
			return store.FollowerOnly
		}
	}

	if len(obj.To.Keys()) > 0 || len(obj.CC.Keys()) > 0 {
		return store.MentionOnly
	}

	return store.Unlisted
}

type resolvedMention struct {
	accountID string
	text      string
}

// resolveMentions fetches the actor behind every Mention tag, skipping (not
// failing the activity) any that cannot be reached. Duplicated from
// fetch's own unexported helper of the same shape, since that package
// keeps it private to its post-resolution flow.
func (p *Processor) resolveMentions(ctx context.Context, tags []ap.Tag) []resolvedMention {
	var out []resolvedMention
	for _, tag := range tags {
		if tag.Type != ap.MentionMention || tag.Href == "" {
			continue
		}

		mentioned, err := p.Fetcher.FetchActor(ctx, fetch.ActorOptions{ID: tag.Href})
		if err != nil {
			continue
		}

		out = append(out, resolvedMention{accountID: mentioned.ID, text: tag.Name})
	}
	return out
}
