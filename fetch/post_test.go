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

	"github.com/corvidfed/fedcore/store"
)

func postDocument(id, author, inReplyTo, content string) string {
	doc := fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": %q,
		"type": "Note",
		"attributedTo": %q,
		"content": %q,
		"to": ["https://www.w3.org/ns/activitystreams#Public"]`, id, author, content)
	if inReplyTo != "" {
		doc += fmt.Sprintf(`, "inReplyTo": %q`, inReplyTo)
	}
	return doc + "}"
}

func TestFetchPost_BoundedReplyChain(t *testing.T) {
	f := newTestFetcher(t)

	const chainLength = 40
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	authorID := srv.URL + "/users/author"
	mux.HandleFunc("/users/author", serveActivityJSON(actorDocument(authorID, authorID+"/inbox", "x")))

	postID := func(i int) string { return fmt.Sprintf("%s/posts/%d", srv.URL, i) }
	for i := 0; i < chainLength; i++ {
		i := i
		parent := ""
		if i > 0 {
			parent = postID(i - 1)
		}
		mux.HandleFunc(fmt.Sprintf("/posts/%d", i), serveActivityJSON(postDocument(postID(i), authorID, parent, fmt.Sprintf("reply %d", i))))
	}

	leaf, err := f.FetchPost(context.Background(), postID(chainLength-1), 0)
	require.NoError(t, err)
	require.NotNil(t, leaf)

	count := 0
	id := leaf.ID
	for id != "" {
		count++
		p, err := store.GetPostByID(context.Background(), f.Store.DB, id)
		require.NoError(t, err)
		if !p.InReplyToID.Valid {
			break
		}
		id = p.InReplyToID.String
	}

	assert.Equal(t, f.MaxDepth+1, count)
}

func TestFetchPost_ContentTypeDisciplineRejected(t *testing.T) {
	f := newTestFetcher(t)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	authorID := srv.URL + "/users/author"
	mux.HandleFunc("/users/author", serveActivityJSON(actorDocument(authorID, authorID+"/inbox", "x")))

	postURL := srv.URL + "/posts/1"
	mux.HandleFunc("/posts/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(postDocument(postURL, authorID, "", "hi")))
	})

	_, err := f.FetchPost(context.Background(), postURL, 0)
	require.Error(t, err)
}

func TestFetchPost_Idempotent(t *testing.T) {
	f := newTestFetcher(t)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	authorID := srv.URL + "/users/author"
	mux.HandleFunc("/users/author", serveActivityJSON(actorDocument(authorID, authorID+"/inbox", "x")))

	postURL := srv.URL + "/posts/1"
	mux.HandleFunc("/posts/1", serveActivityJSON(postDocument(postURL, authorID, "", "hi")))

	first, err := f.FetchPost(context.Background(), postURL, 0)
	require.NoError(t, err)

	second, err := f.FetchPost(context.Background(), postURL, 0)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}
