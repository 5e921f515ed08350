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
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/store"
)

// ServeFollowers handles GET /users/{id}/followers. Unlike the actor
// document and outbox, the follower list can reveal who follows a locked
// account, so - mirroring the one GET handler the teacher itself gates on
// a signature, fed/followers.go's handleFollowers - the request must carry
// a valid Cavage signature. The teacher's partial-followers digest-sync
// protocol (Syncer, followersDigest) is not reproduced here: it exists to
// let two instances reconcile a follower list across paginated batches,
// which is out of scope for a single OrderedCollection response.
func (s *Server) ServeFollowers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	username := r.PathValue("id")

	actor, err := store.GetLocalActorByUsername(r.Context(), s.Store.DB, username)
	if err != nil {
		if errors.Is(err, store.ErrActorNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "Failed to look up followers owner", "username", username, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if _, err := s.verifySender(r); err != nil {
		slog.WarnContext(r.Context(), "Failed to verify followers request", "error", err)
		http.Error(w, "signature verification failed", apperr.HTTPStatus(err))
		return
	}

	urls, err := store.ListApprovedFollowerURLs(r.Context(), s.Store.DB, actor.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list followers", "username", username, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	base := fmt.Sprintf("%s://%s/users/%s/followers", s.Scheme, s.Domain, username)
	total := int64(len(urls))

	writeActivityJSON(w, http.StatusOK, &ap.Collection{
		Context:      activityStreamsContext,
		ID:           base,
		Type:         ap.OrderedCollection,
		TotalItems:   &total,
		OrderedItems: urls,
	})
}
