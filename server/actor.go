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
	"log/slog"
	"net/http"

	"github.com/corvidfed/fedcore/store"
)

// ServeActor handles GET /users/{id}, returning the actor document for a
// local user.
func (s *Server) ServeActor(w http.ResponseWriter, r *http.Request) {
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
		slog.ErrorContext(r.Context(), "Failed to look up actor", "username", username, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeActivityJSON(w, http.StatusOK, actorToAP(actor, s.Scheme))
}
