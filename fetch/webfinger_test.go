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
)

// resolveWebFinger always dials https://, so these tests use a TLS test
// server and its self-trusting client rather than the plain-HTTP one
// newTestFetcher wires up by default.
func newTLSWebFingerServer(mux *http.ServeMux) *httptest.Server {
	return httptest.NewTLSServer(mux)
}

func TestResolveWebFinger_RelSelfWins(t *testing.T) {
	f := newTestFetcher(t)

	var actorID string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jrd+json")
		fmt.Fprintf(w, `{
			"subject": "acct:alice@%s",
			"links": [
				{"rel": "http://webfinger.net/rel/profile-page", "type": "text/html", "href": "https://alice.example/@alice"},
				{"rel": "self", "type": "application/activity+json", "href": %q}
			]
		}`, r.Host, actorID)
	})
	srv := newTLSWebFingerServer(mux)
	defer srv.Close()
	f.Client = srv.Client()

	host := testServerHost(t, srv)
	actorID = srv.URL + "/users/alice"

	resolved, err := f.resolveWebFinger(context.Background(), "alice", host)
	require.NoError(t, err)
	assert.Equal(t, actorID, resolved)
}

func TestResolveWebFinger_FallsBackToSameHostHref(t *testing.T) {
	f := newTestFetcher(t)

	var actorID string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jrd+json")
		fmt.Fprintf(w, `{
			"subject": "acct:alice@%s",
			"links": [
				{"type": "application/activity+json", "href": %q}
			]
		}`, r.Host, actorID)
	})
	srv := newTLSWebFingerServer(mux)
	defer srv.Close()
	f.Client = srv.Client()

	host := testServerHost(t, srv)
	actorID = srv.URL + "/users/alice"

	resolved, err := f.resolveWebFinger(context.Background(), "alice", host)
	require.NoError(t, err)
	assert.Equal(t, actorID, resolved)
}

func TestResolveWebFinger_NoCompatibleLink(t *testing.T) {
	f := newTestFetcher(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jrd+json")
		fmt.Fprint(w, `{"subject": "acct:alice@example", "links": [{"type": "text/html", "href": "https://example/@alice"}]}`)
	})
	srv := newTLSWebFingerServer(mux)
	defer srv.Close()
	f.Client = srv.Client()

	host := testServerHost(t, srv)

	_, err := f.resolveWebFinger(context.Background(), "alice", host)
	require.Error(t, err)
}

func TestResolveWebFinger_Cached(t *testing.T) {
	f := newTestFetcher(t)

	var actorID string
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/jrd+json")
		fmt.Fprintf(w, `{"subject": "acct:alice@%s", "links": [{"rel": "self", "type": "application/activity+json", "href": %q}]}`, r.Host, actorID)
	})
	srv := newTLSWebFingerServer(mux)
	defer srv.Close()
	f.Client = srv.Client()

	host := testServerHost(t, srv)
	actorID = srv.URL + "/users/alice"

	_, err := f.resolveWebFinger(context.Background(), "alice", host)
	require.NoError(t, err)
	_, err = f.resolveWebFinger(context.Background(), "alice", host)
	require.NoError(t, err)

	assert.Equal(t, 1, hits)
}
