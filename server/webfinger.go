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
	"strings"

	"github.com/corvidfed/fedcore/store"
)

type webFingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webFingerLink `json:"links"`
}

type webFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// ServeWebFinger handles GET /.well-known/webfinger, resolving
// acct:user@domain to a local actor's document, mirroring the teacher's
// handleWebFinger minus its bare-domain "nobody" instance-actor
// special-case, which fedcore has no equivalent of.
func (s *Server) ServeWebFinger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resource := r.URL.Query().Get("resource")
	if resource == "" {
		http.Error(w, "resource is required", http.StatusBadRequest)
		return
	}

	acct := strings.TrimPrefix(resource, "acct:")

	username, domain, ok := strings.Cut(acct, "@")
	if !ok || domain != s.Domain {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	actor, err := store.GetLocalActorByUsername(r.Context(), s.Store.DB, username)
	if err != nil {
		if errors.Is(err, store.ErrActorNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "Failed to look up actor for webfinger", "username", username, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	resp := webFingerResponse{
		Subject: "acct:" + actor.Username + "@" + s.Domain,
		Links: []webFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actor.URL,
			},
		},
	}

	writeJSON(w, http.StatusOK, "application/jrd+json; charset=utf-8", resp)
}
