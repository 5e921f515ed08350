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
	"strconv"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/store"
)

// defaultOutboxPageSize and maxOutboxPageSize bound the ?limit query
// parameter, mirroring the fixed page size the teacher's getCollection
// uses but letting a caller ask for fewer.
const (
	defaultOutboxPageSize = 20
	maxOutboxPageSize     = 40
)

// ServeOutbox handles GET /users/{id}/outbox. Absent ?page=true it returns
// the empty-bodied collection wrapper pointing callers at the first page,
// the same two-request shape the teacher's handleOutbox implements; with
// ?page=true it returns one page, paginated by min_id/max_id over the
// post id (a time-ordered UUIDv7) rather than the teacher's numeric
// ?since cursor.
func (s *Server) ServeOutbox(w http.ResponseWriter, r *http.Request) {
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
		slog.ErrorContext(r.Context(), "Failed to look up outbox owner", "username", username, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	base := fmt.Sprintf("%s://%s/users/%s/outbox", s.Scheme, s.Domain, username)

	q := r.URL.Query()
	if q.Get("page") != "true" {
		writeActivityJSON(w, http.StatusOK, &ap.Collection{
			Context: activityStreamsContext,
			ID:      base,
			Type:    ap.OrderedCollection,
			First:   base + "?page=true",
		})
		return
	}

	limit := defaultOutboxPageSize
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n > maxOutboxPageSize {
			n = maxOutboxPageSize
		}
		limit = n
	}

	minID := q.Get("min_id")
	maxID := q.Get("max_id")

	posts, err := store.ListPostsByAccountPage(r.Context(), s.Store.DB, actor.ID, store.VisibilityFilter{IncludeUnlisted: true}, minID, maxID, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list outbox posts", "username", username, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	items := make([]*ap.Activity, 0, len(posts))
	for _, p := range posts {
		items = append(items, activityFor(r.Context(), s.Store, p, actor))
	}

	page := &ap.CollectionPage{
		Context:      activityStreamsContext,
		ID:           pageID(base, minID, maxID, limit),
		Type:         ap.OrderedCollectionPage,
		PartOf:       base,
		OrderedItems: items,
	}
	if len(posts) > 0 {
		page.Next = fmt.Sprintf("%s?page=true&max_id=%s&limit=%d", base, posts[len(posts)-1].ID, limit)
		page.Prev = fmt.Sprintf("%s?page=true&min_id=%s&limit=%d", base, posts[0].ID, limit)
	}

	writeActivityJSON(w, http.StatusOK, page)
}

func pageID(base, minID, maxID string, limit int) string {
	switch {
	case maxID != "":
		return fmt.Sprintf("%s?page=true&max_id=%s&limit=%d", base, maxID, limit)
	case minID != "":
		return fmt.Sprintf("%s?page=true&min_id=%s&limit=%d", base, minID, limit)
	default:
		return fmt.Sprintf("%s?page=true&limit=%d", base, limit)
	}
}
