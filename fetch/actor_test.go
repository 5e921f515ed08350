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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/store"
)

func actorDocument(id, inbox, pubkeyPEM string) string {
	return fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": %q,
		"type": "Person",
		"preferredUsername": "alice",
		"inbox": %q,
		"outbox": %q,
		"publicKey": {"id": %q, "owner": %q, "publicKeyPem": %q}
	}`, id, inbox, inbox+"/outbox", id+"#main-key", id, pubkeyPEM)
}

func serveActivityJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/activity+json")
		w.Write([]byte(body))
	}
}

func TestFetchActor_Success(t *testing.T) {
	f := newTestFetcher(t)

	var actorID string
	mux := http.NewServeMux()
	mux.HandleFunc("/users/alice", func(w http.ResponseWriter, r *http.Request) {
		serveActivityJSON(actorDocument(actorID, actorID+"/inbox", "-----BEGIN PUBLIC KEY-----\nfake\n-----END PUBLIC KEY-----"))(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	actorID = srv.URL + "/users/alice"

	a, err := f.FetchActor(context.Background(), ActorOptions{ID: actorID})
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, actorID, a.URL)
	assert.True(t, a.Domain.Valid)

	cached, err := store.GetActorByURL(context.Background(), f.Store.DB, actorID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, cached.ID)
}

func TestFetchActor_AuthorityMismatchRejected(t *testing.T) {
	f := newTestFetcher(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/users/0x0", serveActivityJSON(actorDocument("https://example.com/users/0x0", "https://example.com/users/0x0/inbox", "x")))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := f.FetchActor(context.Background(), ActorOptions{ID: srv.URL + "/users/0x0"})
	require.Error(t, err)

	kind, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InvalidResponse, kind)

	_, getErr := store.GetActorByURL(context.Background(), f.Store.DB, srv.URL+"/users/0x0")
	assert.ErrorIs(t, getErr, store.ErrActorNotFound)
}

func TestFetchActor_NotFound(t *testing.T) {
	f := newTestFetcher(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/users/ghost", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := f.FetchActor(context.Background(), ActorOptions{ID: srv.URL + "/users/ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchActor_GoneDeletesCachedRow(t *testing.T) {
	f := newTestFetcher(t)

	gone := false
	var actorID string
	mux := http.NewServeMux()
	mux.HandleFunc("/users/bob", func(w http.ResponseWriter, r *http.Request) {
		if gone {
			w.WriteHeader(http.StatusGone)
			return
		}
		serveActivityJSON(actorDocument(actorID, actorID+"/inbox", "x"))(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	actorID = srv.URL + "/users/bob"

	_, err := f.FetchActor(context.Background(), ActorOptions{ID: actorID})
	require.NoError(t, err)

	gone = true
	_, err = f.FetchActor(context.Background(), ActorOptions{ID: actorID, Refetch: true})
	assert.ErrorIs(t, err, ErrGone)

	_, getErr := store.GetActorByURL(context.Background(), f.Store.DB, actorID)
	assert.ErrorIs(t, getErr, store.ErrActorNotFound)
}

func TestFetchActor_ContentTypeDisciplineRejected(t *testing.T) {
	f := newTestFetcher(t)

	var actorID string
	mux := http.NewServeMux()
	mux.HandleFunc("/users/carol", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(actorDocument(actorID, actorID+"/inbox", "x")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	actorID = srv.URL + "/users/carol"

	_, err := f.FetchActor(context.Background(), ActorOptions{ID: actorID})
	require.Error(t, err)

	kind, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InvalidResponse, kind)
}
