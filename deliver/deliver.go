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

// Package deliver implements C7, the outbound delivery engine: it builds
// the Activity wire form for a local mutation, resolves the set of
// recipient inboxes, canonicalizes the body once per job and signs a
// fresh copy of it per recipient, grounded on the teacher's
// fed/deliver.go worker-pool delivery loop but driven by jobqueue.Queue
// instead of an in-process channel pool.
package deliver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/config"
	"github.com/corvidfed/fedcore/httpsig"
	"github.com/corvidfed/fedcore/jobqueue"
	"github.com/corvidfed/fedcore/sandbox"
	"github.com/corvidfed/fedcore/store"
)

// activityStreamsContext is the @context every outbound activity declares,
// matching the teacher's plain string-literal convention rather than a
// structured context document.
const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// Job kinds, matching the wire-format discriminator jobqueue's envelope
// stores in job_contexts.context_json. Exactly nine kinds: Announce never
// appears here because it is inbound-only (see package inbox).
const (
	KindCreate      = "DeliverCreate"
	KindUpdate      = "DeliverUpdate"
	KindDelete      = "DeliverDelete"
	KindFollow      = "DeliverFollow"
	KindUnfollow    = "DeliverUnfollow"
	KindAccept      = "DeliverAccept"
	KindReject      = "DeliverReject"
	KindFavourite   = "DeliverFavourite"
	KindUnfavourite = "DeliverUnfavourite"
)

// postPayload is carried by Create/Update jobs: the worker re-reads the
// post's current content from the store rather than embedding a snapshot.
type postPayload struct {
	PostID string `json:"post_id"`
}

// deletePayload is carried by Delete jobs. Unlike the other eight kinds,
// a Delete job cannot re-read the post row by id: the whole point of the
// job is that the row is gone (or will be gone) by the time it runs, so
// the URL, actor id and recipient inboxes the Tombstone needs are all
// captured at enqueue time instead of being re-derived from a post row
// that may no longer exist.
type deletePayload struct {
	PostURL string   `json:"post_url"`
	ActorID string   `json:"actor_id"`
	Inboxes []string `json:"inboxes"`
}

// followPayload is carried by Follow/Unfollow/Accept/Reject jobs.
type followPayload struct {
	FollowID string `json:"follow_id"`
}

// favouritePayload is carried by Favourite/Unfavourite jobs.
type favouritePayload struct {
	FavouriteID string `json:"favourite_id"`
}

// Engine wires activity construction, recipient resolution and signed
// delivery into handlers registered against a jobqueue.Queue.
type Engine struct {
	Store   *store.Store
	Queue   *jobqueue.Queue
	Sandbox sandbox.Policy

	ChunkSize int

	client  *breakerClient
	metrics *Metrics
}

// New builds an Engine and registers its handlers against queue. Call
// Enqueue* functions afterwards to schedule deliveries; queue.Run drives
// the handlers this registers.
func New(s *store.Store, queue *jobqueue.Queue, policy sandbox.Policy, cfg *config.Messaging) *Engine {
	if policy == nil {
		policy = sandbox.AllowAll{}
	}

	e := &Engine{
		Store:     s,
		Queue:     queue,
		Sandbox:   policy,
		ChunkSize: cfg.DeliveryChunkSize,
		client: newBreakerClient(&http.Client{
			Timeout: cfg.DeliveryTimeout,
		}, cfg.BreakerFailThreshold, cfg.BreakerOpenTimeout),
		metrics: NewMetrics(),
	}

	queue.RegisterHandler(KindCreate, e.handleCreate)
	queue.RegisterHandler(KindUpdate, e.handleUpdate)
	queue.RegisterHandler(KindDelete, e.handleDelete)
	queue.RegisterHandler(KindFollow, e.handleFollow)
	queue.RegisterHandler(KindUnfollow, e.handleUnfollow)
	queue.RegisterHandler(KindAccept, e.handleAccept)
	queue.RegisterHandler(KindReject, e.handleReject)
	queue.RegisterHandler(KindFavourite, e.handleFavourite)
	queue.RegisterHandler(KindUnfavourite, e.handleUnfavourite)

	return e
}

// DeliverCreate schedules delivery of postID's Create{Note}.
func (e *Engine) DeliverCreate(ctx context.Context, tx *sql.Tx, postID string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindCreate, postPayload{PostID: postID}, time.Now())
}

// DeliverUpdate schedules delivery of postID's Update{Note}.
func (e *Engine) DeliverUpdate(ctx context.Context, tx *sql.Tx, postID string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindUpdate, postPayload{PostID: postID}, time.Now())
}

// DeliverDelete schedules delivery of a Delete{Tombstone} for a post that
// is being (or has just been) removed. postURL, actorID and the
// recipient inboxes (from ResolveInboxes, called while the post row
// still exists) must be captured by the caller before the row
// disappears.
func (e *Engine) DeliverDelete(ctx context.Context, tx *sql.Tx, postURL, actorID string, inboxes []string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindDelete, deletePayload{PostURL: postURL, ActorID: actorID, Inboxes: inboxes}, time.Now())
}

// ResolveInboxes exposes resolveInboxes for callers that must capture a
// post's recipient set before deleting its row, for use with
// DeliverDelete.
func (e *Engine) ResolveInboxes(ctx context.Context, post *store.Post, author *store.Actor) ([]string, error) {
	return e.resolveInboxes(ctx, post, author)
}

// DeliverFollow schedules delivery of followID's Follow activity.
func (e *Engine) DeliverFollow(ctx context.Context, tx *sql.Tx, followID string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindFollow, followPayload{FollowID: followID}, time.Now())
}

// DeliverUnfollow schedules delivery of an Undo{Follow} for followID.
func (e *Engine) DeliverUnfollow(ctx context.Context, tx *sql.Tx, followID string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindUnfollow, followPayload{FollowID: followID}, time.Now())
}

// DeliverAccept schedules delivery of an Accept wrapping followID's Follow.
func (e *Engine) DeliverAccept(ctx context.Context, tx *sql.Tx, followID string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindAccept, followPayload{FollowID: followID}, time.Now())
}

// DeliverReject schedules delivery of a Reject wrapping followID's Follow.
func (e *Engine) DeliverReject(ctx context.Context, tx *sql.Tx, followID string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindReject, followPayload{FollowID: followID}, time.Now())
}

// DeliverFavourite schedules delivery of favouriteID's Like activity.
func (e *Engine) DeliverFavourite(ctx context.Context, tx *sql.Tx, favouriteID string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindFavourite, favouritePayload{FavouriteID: favouriteID}, time.Now())
}

// DeliverUnfavourite schedules delivery of an Undo{Like} for favouriteID.
func (e *Engine) DeliverUnfavourite(ctx context.Context, tx *sql.Tx, favouriteID string) (string, error) {
	return e.Queue.Enqueue(ctx, tx, KindUnfavourite, favouritePayload{FavouriteID: favouriteID}, time.Now())
}

func (e *Engine) handleCreate(ctx context.Context, raw json.RawMessage) error {
	var p postPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.New(apperr.InvalidDocument, err)
	}

	post, err := store.GetPostByID(ctx, e.Store.DB, p.PostID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	author, err := store.GetActorByID(ctx, e.Store.DB, post.AccountID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	activity := &ap.Activity{
		Context: activityStreamsContext,
		ID:      post.URL + "/activity",
		Type:    ap.Create,
		Actor:   author.URL,
		Object:  e.noteFromPost(ctx, post, author),
		To:      audienceFor(post),
	}

	return e.deliver(ctx, activity, author, post)
}

func (e *Engine) handleUpdate(ctx context.Context, raw json.RawMessage) error {
	var p postPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.New(apperr.InvalidDocument, err)
	}

	post, err := store.GetPostByID(ctx, e.Store.DB, p.PostID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	author, err := store.GetActorByID(ctx, e.Store.DB, post.AccountID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	note := e.noteFromPost(ctx, post, author)
	note.Updated = ap.Time{Time: time.Unix(post.UpdatedAt, 0).UTC()}

	activity := &ap.Activity{
		Context: activityStreamsContext,
		ID:      fmt.Sprintf("%s/activity#update-%d", post.URL, post.UpdatedAt),
		Type:    ap.Update,
		Actor:   author.URL,
		Object:  note,
		To:      audienceFor(post),
	}

	return e.deliver(ctx, activity, author, post)
}

func (e *Engine) handleDelete(ctx context.Context, raw json.RawMessage) error {
	var p deletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.New(apperr.InvalidDocument, err)
	}

	author, err := store.GetActorByID(ctx, e.Store.DB, p.ActorID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	activity := &ap.Activity{
		Context: activityStreamsContext,
		ID:      p.PostURL + "#delete",
		Type:    ap.Delete,
		Actor:   author.URL,
		Object:  &ap.Object{ID: p.PostURL, Type: ap.Tombstone},
		To:      ap.Audience{},
	}
	activity.To.Add(ap.Public)

	return e.deliverTo(ctx, activity, author, p.Inboxes)
}

func (e *Engine) handleFollow(ctx context.Context, raw json.RawMessage) error {
	follow, err := e.loadFollow(ctx, raw)
	if err != nil {
		return err
	}

	follower, err := store.GetActorByID(ctx, e.Store.DB, follow.FollowerID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}
	followed, err := store.GetActorByID(ctx, e.Store.DB, follow.AccountID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	activity := &ap.Activity{
		Context: activityStreamsContext,
		ID:      follow.URL,
		Type:    ap.Follow,
		Actor:   follower.URL,
		Object:  followed.URL,
	}

	return e.deliverTo(ctx, activity, follower, []string{inboxOf(followed)})
}

func (e *Engine) handleUnfollow(ctx context.Context, raw json.RawMessage) error {
	follow, err := e.loadFollow(ctx, raw)
	if err != nil {
		return err
	}

	follower, err := store.GetActorByID(ctx, e.Store.DB, follow.FollowerID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}
	followed, err := store.GetActorByID(ctx, e.Store.DB, follow.AccountID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	inner := &ap.Activity{
		ID:     follow.URL,
		Type:   ap.Follow,
		Actor:  follower.URL,
		Object: followed.URL,
	}

	activity := &ap.Activity{
		Context: activityStreamsContext,
		ID:      follow.URL + "#undo",
		Type:    ap.Undo,
		Actor:   follower.URL,
		Object:  inner,
	}

	return e.deliverTo(ctx, activity, follower, []string{inboxOf(followed)})
}

func (e *Engine) handleAccept(ctx context.Context, raw json.RawMessage) error {
	return e.respondToFollow(ctx, raw, ap.Accept, "accept")
}

func (e *Engine) handleReject(ctx context.Context, raw json.RawMessage) error {
	return e.respondToFollow(ctx, raw, ap.Reject, "reject")
}

func (e *Engine) respondToFollow(ctx context.Context, raw json.RawMessage, kind ap.ActivityType, idSuffix string) error {
	follow, err := e.loadFollow(ctx, raw)
	if err != nil {
		return err
	}

	follower, err := store.GetActorByID(ctx, e.Store.DB, follow.FollowerID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}
	followed, err := store.GetActorByID(ctx, e.Store.DB, follow.AccountID)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	inner := &ap.Activity{
		ID:     follow.URL,
		Type:   ap.Follow,
		Actor:  follower.URL,
		Object: followed.URL,
	}

	activity := &ap.Activity{
		Context: activityStreamsContext,
		ID:      follow.URL + "#" + idSuffix,
		Type:    kind,
		Actor:   followed.URL,
		Object:  inner,
	}

	return e.deliverTo(ctx, activity, followed, []string{inboxOf(follower)})
}

func (e *Engine) loadFollow(ctx context.Context, raw json.RawMessage) (*store.Follow, error) {
	var p followPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperr.New(apperr.InvalidDocument, err)
	}

	follow, err := store.GetFollowByID(ctx, e.Store.DB, p.FollowID)
	if err != nil {
		return nil, apperr.New(apperr.DatabasePool, err)
	}
	return follow, nil
}

func (e *Engine) handleFavourite(ctx context.Context, raw json.RawMessage) error {
	fav, liker, post, postAuthor, err := e.loadFavourite(ctx, raw)
	if err != nil {
		return err
	}

	activity := &ap.Activity{
		Context: activityStreamsContext,
		ID:      fav.URL,
		Type:    ap.Like,
		Actor:   liker.URL,
		Object:  post.URL,
	}

	return e.deliverTo(ctx, activity, liker, []string{inboxOf(postAuthor)})
}

func (e *Engine) handleUnfavourite(ctx context.Context, raw json.RawMessage) error {
	fav, liker, post, postAuthor, err := e.loadFavourite(ctx, raw)
	if err != nil {
		return err
	}

	inner := &ap.Activity{
		ID:     fav.URL,
		Type:   ap.Like,
		Actor:  liker.URL,
		Object: post.URL,
	}

	activity := &ap.Activity{
		Context: activityStreamsContext,
		ID:      fav.URL + "#undo",
		Type:    ap.Undo,
		Actor:   liker.URL,
		Object:  inner,
	}

	return e.deliverTo(ctx, activity, liker, []string{inboxOf(postAuthor)})
}

func (e *Engine) loadFavourite(ctx context.Context, raw json.RawMessage) (*store.Favourite, *store.Actor, *store.Post, *store.Actor, error) {
	var p favouritePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, nil, nil, apperr.New(apperr.InvalidDocument, err)
	}

	fav, err := store.GetFavouriteByID(ctx, e.Store.DB, p.FavouriteID)
	if err != nil {
		return nil, nil, nil, nil, apperr.New(apperr.DatabasePool, err)
	}
	liker, err := store.GetActorByID(ctx, e.Store.DB, fav.AccountID)
	if err != nil {
		return nil, nil, nil, nil, apperr.New(apperr.DatabasePool, err)
	}
	post, err := store.GetPostByID(ctx, e.Store.DB, fav.PostID)
	if err != nil {
		return nil, nil, nil, nil, apperr.New(apperr.DatabasePool, err)
	}
	postAuthor, err := store.GetActorByID(ctx, e.Store.DB, post.AccountID)
	if err != nil {
		return nil, nil, nil, nil, apperr.New(apperr.DatabasePool, err)
	}

	return fav, liker, post, postAuthor, nil
}

func inboxOf(a *store.Actor) string {
	if a.SharedInboxURL.Valid {
		return a.SharedInboxURL.String
	}
	return a.InboxURL
}

func (e *Engine) noteFromPost(ctx context.Context, p *store.Post, author *store.Actor) *ap.Object {
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
		if parent, err := store.GetPostByID(ctx, e.Store.DB, p.InReplyToID.String); err == nil {
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

// deliver resolves the post's recipient inboxes via resolveInboxes (mentions plus, unless the post is
// MentionOnly, the author's approved followers) and hands the activity to
// deliverTo.
func (e *Engine) deliver(ctx context.Context, activity *ap.Activity, author *store.Actor, post *store.Post) error {
	inboxes, err := e.resolveInboxes(ctx, post, author)
	if err != nil {
		return err
	}
	return e.deliverTo(ctx, activity, author, inboxes)
}

func (e *Engine) resolveInboxes(ctx context.Context, post *store.Post, author *store.Actor) ([]string, error) {
	seen := make(map[string]struct{})
	var inboxes []string

	add := func(list []string) {
		for _, inbox := range list {
			if inbox == "" {
				continue
			}
			if _, ok := seen[inbox]; ok {
				continue
			}
			seen[inbox] = struct{}{}
			inboxes = append(inboxes, inbox)
		}
	}

	if post != nil {
		mentioned, err := store.ListMentionedInboxes(ctx, e.Store.DB, post.ID)
		if err != nil {
			return nil, apperr.New(apperr.DatabasePool, err)
		}
		add(mentioned)

		if post.Visibility != store.MentionOnly {
			followers, err := store.ListApprovedFollowerInboxes(ctx, e.Store.DB, author.ID)
			if err != nil {
				return nil, apperr.New(apperr.DatabasePool, err)
			}
			add(followers)
		}
	}

	return inboxes, nil
}

// deliverTo canonicalizes activity once, then signs and sends a copy of
// the canonical body to each recipient inbox (chunked into bounded-size
// groups), recording each success so a retried job does not redeliver.
// Per-recipient failures are logged and do not fail the job: the job's
// contract is best-effort fan-out, not all-or-nothing delivery.
func (e *Engine) deliverTo(ctx context.Context, activity *ap.Activity, signer *store.Actor, inboxes []string) error {
	if len(inboxes) == 0 {
		return nil
	}

	raw, err := json.Marshal(activity)
	if err != nil {
		return apperr.New(apperr.InvalidDocument, fmt.Errorf("failed to marshal activity: %w", err))
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return apperr.New(apperr.InvalidDocument, fmt.Errorf("failed to canonicalize activity: %w", err))
	}

	if !signer.PrivateKeyPEM.Valid {
		return apperr.New(apperr.InvalidDocument, fmt.Errorf("actor %s has no private key", signer.ID))
	}
	privKey, err := httpsig.DecodePrivateKeyPEM([]byte(signer.PrivateKeyPEM.String))
	if err != nil {
		return apperr.New(apperr.InvalidDocument, fmt.Errorf("failed to decode signing key: %w", err))
	}
	key := httpsig.Key{ID: signer.URL + "#main-key", PrivateKey: privKey}

	remaining, err := store.UndeliveredInboxes(ctx, e.Store.DB, activity.ID, inboxes)
	if err != nil {
		return apperr.New(apperr.DatabasePool, err)
	}

	for chunkStart := 0; chunkStart < len(remaining); chunkStart += e.chunkSize() {
		end := min(chunkStart+e.chunkSize(), len(remaining))
		chunk := remaining[chunkStart:end]

		results := make(chan deliveryResult, len(chunk))
		for _, inbox := range chunk {
			go func(inbox string) {
				results <- e.deliverOne(ctx, inbox, canonical, key)
			}(inbox)
		}

		for range chunk {
			res := <-results
			if res.err != nil {
				slog.WarnContext(ctx, "Failed to deliver activity", "inbox", res.inbox, "activity", activity.ID, "error", res.err)
				e.metrics.recordDeliveryFailed(ctx)
				continue
			}

			e.metrics.recordDeliverySucceeded(ctx)
			if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
				return store.RecordDelivery(ctx, tx, activity.ID, res.inbox)
			}); err != nil {
				slog.WarnContext(ctx, "Failed to record delivery", "inbox", res.inbox, "error", err)
			}
		}
	}

	return nil
}

func (e *Engine) chunkSize() int {
	if e.ChunkSize <= 0 {
		return 10
	}
	return e.ChunkSize
}

type deliveryResult struct {
	inbox string
	err   error
}

func (e *Engine) deliverOne(ctx context.Context, inbox string, canonicalBody []byte, key httpsig.Key) deliveryResult {
	verdict, err := e.Sandbox.Transform(ctx, sandbox.Outbound, canonicalBody)
	if err != nil {
		return deliveryResult{inbox, apperr.New(apperr.InvalidDocument, err)}
	}
	if verdict == sandbox.Reject {
		return deliveryResult{inbox, nil}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(canonicalBody))
	if err != nil {
		return deliveryResult{inbox, apperr.New(apperr.UrlParse, err)}
	}
	req.Header.Set("Content-Type", `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)

	if err := httpsig.Sign(req, key, time.Now()); err != nil {
		return deliveryResult{inbox, apperr.New(apperr.InvalidDocument, err)}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return deliveryResult{inbox, err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return deliveryResult{inbox, apperr.New(apperr.HttpClient, fmt.Errorf("inbox %s responded %d", inbox, resp.StatusCode))}
	}

	return deliveryResult{inbox, nil}
}
