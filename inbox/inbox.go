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

// Package inbox implements C6, the inbox processor: the HTTP front doors
// for POST /users/{id}/inbox and POST /inbox, Cavage signature
// verification against the sender's resolved key, and the
// Create/Update/Delete/Follow/Accept/Reject/Undo/Like/Announce dispatch
// table, grounded on the teacher's fed/inbox.go front door and
// inbox/inbox.go ProcessActivity switch.
package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/deliver"
	"github.com/corvidfed/fedcore/fetch"
	"github.com/corvidfed/fedcore/filter"
	"github.com/corvidfed/fedcore/httpsig"
	"github.com/corvidfed/fedcore/logcontext"
	"github.com/corvidfed/fedcore/sandbox"
	"github.com/corvidfed/fedcore/store"
)

// Processor verifies an inbound activity's signature, applies the
// federation filter and the policy sandbox, checks origin and dedups by
// activity id, then dispatches the activity to the handler for its type.
type Processor struct {
	Store   *store.Store
	Fetcher *fetch.Fetcher
	Filter  *filter.Filter
	Deliver *deliver.Engine
	Sandbox sandbox.Policy

	Domain             string
	MaxRequestBodySize int64
	MaxRequestAge      time.Duration

	metrics *Metrics
}

// New builds a Processor. policy may be nil, in which case every activity
// is accepted unchanged.
func New(s *store.Store, fetcher *fetch.Fetcher, f *filter.Filter, d *deliver.Engine, policy sandbox.Policy, domain string, maxRequestBodySize int64, maxRequestAge time.Duration) *Processor {
	if policy == nil {
		policy = sandbox.AllowAll{}
	}

	return &Processor{
		Store:              s,
		Fetcher:            fetcher,
		Filter:             f,
		Deliver:            d,
		Sandbox:            policy,
		Domain:             domain,
		MaxRequestBodySize: maxRequestBodySize,
		MaxRequestAge:      maxRequestAge,
		metrics:            NewMetrics(),
	}
}

// ServeSharedInbox handles POST /inbox.
func (p *Processor) ServeSharedInbox(w http.ResponseWriter, r *http.Request) {
	p.serve(w, r)
}

// ServeActorInbox handles POST /users/{id}/inbox: it confirms id names a
// local actor before falling through to the same processing the shared
// inbox gets, since fedcore fans every inbound activity through the same
// dispatch table regardless of which inbox it arrived at.
func (p *Processor) ServeActorInbox(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("id")

	if _, err := store.GetLocalActorByUsername(r.Context(), p.Store.DB, username); err != nil {
		if errors.Is(err, store.ErrActorNotFound) {
			http.Error(w, "actor not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "Failed to look up inbox owner", "username", username, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	p.serve(w, r)
}

func (p *Processor) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, p.MaxRequestBodySize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > p.MaxRequestBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var activity ap.Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		http.Error(w, "malformed activity", http.StatusBadRequest)
		return
	}

	ctx = logcontext.Add(ctx, "activity", activity.ID, "activity_type", activity.Type)

	sender, err := p.authenticate(ctx, r, body, &activity)
	if err != nil {
		slog.WarnContext(ctx, "Failed to authenticate inbound activity", "error", err)
		http.Error(w, "signature verification failed", apperr.HTTPStatus(err))
		return
	}

	if allowed, err := p.Filter.AllowsURL(activity.Actor); err != nil || !allowed {
		http.Error(w, "sender is not permitted to federate with this instance", http.StatusForbidden)
		return
	}

	verdict, err := p.Sandbox.Transform(ctx, sandbox.Inbound, body)
	if err != nil {
		slog.ErrorContext(ctx, "Inbound policy check failed", "error", err)
		http.Error(w, "policy check failed", http.StatusInternalServerError)
		return
	}
	if verdict == sandbox.Reject {
		http.Error(w, "rejected by policy", http.StatusForbidden)
		return
	}

	origin, err := ap.Origin(activity.Actor)
	if err != nil {
		http.Error(w, "invalid actor id", http.StatusBadRequest)
		return
	}
	if err := ap.ValidateOrigin(p.Domain, &activity, origin); err != nil {
		if errors.Is(err, ap.ErrUnsupportedActivity) {
			// an activity type we don't dispatch is accepted and dropped,
			// not rejected: a peer shouldn't retry it forever.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, "invalid activity", http.StatusBadRequest)
		return
	}

	var isNew bool
	if err := p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		isNew, err = store.RecordSeenActivity(ctx, tx, activity.ID)
		return err
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to record seen activity", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !isNew {
		slog.DebugContext(ctx, "Ignoring duplicate activity")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := p.dispatch(ctx, sender, &activity); err != nil {
		slog.ErrorContext(ctx, "Failed to process activity", "error", err)
		p.metrics.recordRejected(ctx)
		http.Error(w, "failed to process activity", apperr.HTTPStatus(err))
		return
	}

	p.metrics.recordAccepted(ctx)
	w.WriteHeader(http.StatusAccepted)
}

// authenticate extracts and verifies the request's Cavage signature
// against the key its keyId names, then resolves the activity's sender:
// ordinarily the signing actor itself, but for a forwarded activity the
// signer only needs to share the activity actor's host.
func (p *Processor) authenticate(ctx context.Context, r *http.Request, body []byte, activity *ap.Activity) (*store.Actor, error) {
	if activity.ID == "" || activity.Type == "" {
		return nil, apperr.New(apperr.InvalidDocument, errors.New("activity is missing an id or type"))
	}
	if activity.Actor == "" {
		return nil, apperr.New(apperr.InvalidDocument, errors.New("activity is missing an actor"))
	}

	sig, err := httpsig.Extract(r, body, p.Domain, time.Now(), p.MaxRequestAge)
	if err != nil {
		return nil, apperr.New(classifySignatureError(err), err)
	}

	keyOwner, _, _ := strings.Cut(sig.KeyID, "#")

	signer, err := p.Fetcher.FetchActor(ctx, fetch.ActorOptions{ID: keyOwner})
	if err != nil {
		return nil, apperr.New(apperr.MissingSignature, fmt.Errorf("failed to resolve signer %s: %w", keyOwner, err))
	}

	pub, err := httpsig.DecodePublicKeyPEM([]byte(signer.PublicKeyPEM))
	if err != nil {
		return nil, apperr.New(apperr.InvalidSignatureHeader, fmt.Errorf("failed to decode signer's key: %w", err))
	}

	if err := sig.Verify(pub); err != nil {
		return nil, apperr.New(apperr.InvalidSignatureHeader, fmt.Errorf("signature verification failed: %w", err))
	}

	if signer.URL == activity.Actor {
		return signer, nil
	}

	signerOrigin, err := ap.Origin(signer.URL)
	if err != nil {
		return nil, apperr.New(apperr.InvalidDocument, err)
	}
	actorOrigin, err := ap.Origin(activity.Actor)
	if err != nil || signerOrigin != actorOrigin {
		return nil, apperr.New(apperr.InvalidSignatureHeader, fmt.Errorf("signer %s does not match activity actor %s", signer.URL, activity.Actor))
	}

	sender, err := p.Fetcher.FetchActor(ctx, fetch.ActorOptions{ID: activity.Actor})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func classifySignatureError(err error) apperr.Kind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "date"):
		return apperr.ExpiredSignature
	case strings.Contains(msg, "signature"):
		return apperr.MissingSignature
	default:
		return apperr.InvalidSignatureHeader
	}
}

// dispatch applies the precondition/effect table for each supported
// activity type. The caller has already authenticated sender and checked
// origin and uniqueness.
func (p *Processor) dispatch(ctx context.Context, sender *store.Actor, activity *ap.Activity) error {
	switch activity.Type {
	case ap.Create:
		obj, ok := activity.Object.(*ap.Object)
		if !ok {
			return apperr.New(apperr.InvalidDocument, errors.New("create: object is not a Note"))
		}
		return p.handleCreate(ctx, sender, obj)

	case ap.Update:
		obj, ok := activity.Object.(*ap.Object)
		if !ok {
			return apperr.New(apperr.InvalidDocument, errors.New("update: object is not an object"))
		}
		if isActorType(obj.Type) {
			return p.handleUpdateActor(ctx, sender, obj.ID)
		}
		return p.handleUpdateNote(ctx, sender, obj)

	case ap.Delete:
		return p.handleDelete(ctx, sender, activity)

	case ap.Follow:
		return p.handleFollow(ctx, sender, activity)

	case ap.Accept:
		return p.respondToFollow(ctx, sender, activity, store.ApproveFollow)

	case ap.Reject:
		return p.respondToFollow(ctx, sender, activity, store.DeleteFollowByURL)

	case ap.Undo:
		return p.handleUndo(ctx, sender, activity)

	case ap.Like:
		return p.handleLike(ctx, sender, activity)

	case ap.Announce:
		return p.handleAnnounce(ctx, sender, activity)

	default:
		slog.DebugContext(ctx, "Ignoring activity type with no dispatch handler")
		return nil
	}
}

func isActorType(t ap.ObjectType) bool {
	switch string(t) {
	case "Person", "Group", "Service", "Application":
		return true
	default:
		return false
	}
}
