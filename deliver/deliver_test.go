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

package deliver

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/config"
	"github.com/corvidfed/fedcore/httpsig"
	"github.com/corvidfed/fedcore/jobqueue"
	"github.com/corvidfed/fedcore/sandbox"
	"github.com/corvidfed/fedcore/store"
	"github.com/corvidfed/fedcore/store/migrations"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	dir := t.TempDir()
	s, err := store.Open(&config.Database{
		Path:            filepath.Join(dir, "fedcore.db"),
		Options:         "_journal_mode=WAL&_busy_timeout=5000",
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, migrations.Run(context.Background(), s.DB))
	t.Cleanup(func() { s.Close() })

	return s
}

func newTestQueue(t *testing.T, s *store.Store) *jobqueue.Queue {
	t.Helper()
	return jobqueue.New(s, &config.JobQueue{
		NumWorkers:           2,
		LeaseDuration:        time.Minute,
		MoverInterval:        time.Millisecond * 10,
		MaxRetryHorizon:      time.Hour,
		SoftExecutionTimeout: time.Second,
	})
}

func insertActorWithKey(t *testing.T, s *store.Store, username, domain string) *store.Actor {
	t.Helper()

	key, err := httpsig.Generate("unused")
	require.NoError(t, err)
	rsaKey := key.PrivateKey.(*rsa.PrivateKey)

	pub, err := httpsig.EncodePublicKeyPEM(&rsaKey.PublicKey)
	require.NoError(t, err)

	a := &store.Actor{
		Username:     username,
		URL:          "https://" + domain + "/users/" + username,
		InboxURL:     "https://" + domain + "/users/" + username + "/inbox",
		PublicKeyPEM: string(pub),
	}
	if domain == "local.example" {
		a.PrivateKeyPEM = sql.NullString{String: string(httpsig.EncodePrivateKeyPEM(rsaKey)), Valid: true}
	} else {
		a.Domain = sql.NullString{String: domain, Valid: true}
	}

	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.InsertActor(context.Background(), tx, a)
	}))
	return a
}

func TestDeliverCreate_SignsAndPostsToMentionedInbox(t *testing.T) {
	var received atomic.Int32
	var gotSignature, gotDigest string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		gotSignature = r.Header.Get("Signature")
		gotDigest = r.Header.Get("Digest")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := newTestStore(t)
	q := newTestQueue(t, s)
	e := New(s, q, nil, &config.Messaging{
		DeliveryWorkers:      1,
		DeliveryChunkSize:    10,
		DeliveryTimeout:      time.Second * 5,
		BreakerFailThreshold: 5,
		BreakerOpenTimeout:   time.Minute,
	})

	author := insertActorWithKey(t, s, "alice", "local.example")
	mentioned := insertActorWithKey(t, s, "bob", "remote.example")
	mentioned.InboxURL = srv.URL + "/inbox"
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.UpdateActorProfile(context.Background(), tx, mentioned)
	}))

	var postID string
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		p := &store.Post{
			AccountID:  author.ID,
			URL:        "https://local.example/posts/1",
			Content:    "hello @bob",
			Visibility: store.MentionOnly,
			IsLocal:    true,
		}
		if err := store.InsertPost(context.Background(), tx, p); err != nil {
			return err
		}
		postID = p.ID
		return store.InsertMention(context.Background(), tx, &store.Mention{PostID: p.ID, AccountID: mentioned.ID, MentionText: "@bob@remote.example"})
	}))

	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := e.DeliverCreate(context.Background(), tx, postID)
		return err
	}))

	n, err := q.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, int32(1), received.Load())
	require.NotEmpty(t, gotSignature)
	require.NotEmpty(t, gotDigest)
	require.Contains(t, gotSignature, author.URL+"#main-key")
}

// TestDeliverCreate_SkipsAlreadyDeliveredInbox exercises the dedup path a
// retried job relies on: Create's activity id is deterministic (derived
// from the post URL, not freshly minted), so a delivery already recorded
// under that id is skipped even though the job runs again.
func TestDeliverCreate_SkipsAlreadyDeliveredInbox(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := newTestStore(t)
	q := newTestQueue(t, s)
	e := New(s, q, nil, &config.Messaging{DeliveryChunkSize: 10, DeliveryTimeout: time.Second * 5, BreakerFailThreshold: 5, BreakerOpenTimeout: time.Minute})

	author := insertActorWithKey(t, s, "alice", "local.example")
	mentioned := insertActorWithKey(t, s, "carol", "remote2.example")
	mentioned.InboxURL = srv.URL + "/inbox"
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.UpdateActorProfile(context.Background(), tx, mentioned)
	}))

	const postURL = "https://local.example/posts/2"
	var postID string
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		p := &store.Post{AccountID: author.ID, URL: postURL, Content: "hi", Visibility: store.MentionOnly, IsLocal: true}
		if err := store.InsertPost(context.Background(), tx, p); err != nil {
			return err
		}
		postID = p.ID
		return store.InsertMention(context.Background(), tx, &store.Mention{PostID: p.ID, AccountID: mentioned.ID, MentionText: "@carol"})
	}))

	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.RecordDelivery(context.Background(), tx, postURL+"/activity", mentioned.InboxURL)
	}))

	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := e.DeliverCreate(context.Background(), tx, postID)
		return err
	}))

	n, err := q.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, received.Load())
}

func TestDeliverFollow_BuildsFollowActivityToFollowedInbox(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = readAll(r)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := newTestStore(t)
	q := newTestQueue(t, s)
	e := New(s, q, nil, &config.Messaging{DeliveryChunkSize: 10, DeliveryTimeout: time.Second * 5, BreakerFailThreshold: 5, BreakerOpenTimeout: time.Minute})

	follower := insertActorWithKey(t, s, "dave", "local.example")
	followed := insertActorWithKey(t, s, "erin", "remote3.example")
	followed.InboxURL = srv.URL + "/inbox"
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.UpdateActorProfile(context.Background(), tx, followed)
	}))

	var followID string
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		f := &store.Follow{AccountID: followed.ID, FollowerID: follower.ID, URL: "https://local.example/follow/1"}
		if err := store.InsertFollow(context.Background(), tx, f, false); err != nil {
			return err
		}
		followID = f.ID
		return nil
	}))

	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := e.DeliverFollow(context.Background(), tx, followID)
		return err
	}))

	n, err := q.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NotEmpty(t, body)

	var activity ap.Activity
	require.NoError(t, json.Unmarshal(body, &activity))
	require.Equal(t, ap.Follow, activity.Type)
	require.Equal(t, follower.URL, activity.Actor)
	require.Equal(t, followed.URL, activity.Object)
}

func TestDeliverTo_SandboxRejectSuppressesRequest(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := newTestStore(t)
	q := newTestQueue(t, s)
	e := New(s, q, rejectAll{}, &config.Messaging{DeliveryChunkSize: 10, DeliveryTimeout: time.Second * 5, BreakerFailThreshold: 5, BreakerOpenTimeout: time.Minute})

	author := insertActorWithKey(t, s, "frank", "local.example")
	mentioned := insertActorWithKey(t, s, "grace", "remote4.example")
	mentioned.InboxURL = srv.URL + "/inbox"
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.UpdateActorProfile(context.Background(), tx, mentioned)
	}))

	var postID string
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		p := &store.Post{AccountID: author.ID, URL: "https://local.example/posts/3", Content: "hi", Visibility: store.MentionOnly, IsLocal: true}
		if err := store.InsertPost(context.Background(), tx, p); err != nil {
			return err
		}
		postID = p.ID
		return store.InsertMention(context.Background(), tx, &store.Mention{PostID: p.ID, AccountID: mentioned.ID, MentionText: "@grace"})
	}))

	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := e.DeliverCreate(context.Background(), tx, postID)
		return err
	}))

	n, err := q.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, received.Load())
}

// TestDeliverDelete_UsesInboxesCapturedAtEnqueueTime exercises the
// DeliverDelete contract: the post row is gone by the time the job runs,
// so the recipient inboxes must come from the payload rather than a
// fresh ResolveInboxes call against a (now-missing) post.
func TestDeliverDelete_UsesInboxesCapturedAtEnqueueTime(t *testing.T) {
	var received atomic.Int32
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		body, _ = readAll(r)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := newTestStore(t)
	q := newTestQueue(t, s)
	e := New(s, q, nil, &config.Messaging{DeliveryChunkSize: 10, DeliveryTimeout: time.Second * 5, BreakerFailThreshold: 5, BreakerOpenTimeout: time.Minute})

	author := insertActorWithKey(t, s, "heidi", "local.example")
	mentioned := insertActorWithKey(t, s, "ivan", "remote5.example")
	mentioned.InboxURL = srv.URL + "/inbox"
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.UpdateActorProfile(context.Background(), tx, mentioned)
	}))

	const postURL = "https://local.example/posts/4"
	var postID string
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		p := &store.Post{AccountID: author.ID, URL: postURL, Content: "bye", Visibility: store.MentionOnly, IsLocal: true}
		if err := store.InsertPost(context.Background(), tx, p); err != nil {
			return err
		}
		postID = p.ID
		return store.InsertMention(context.Background(), tx, &store.Mention{PostID: p.ID, AccountID: mentioned.ID, MentionText: "@ivan"})
	}))

	post, err := store.GetPostByID(context.Background(), s.DB, postID)
	require.NoError(t, err)
	inboxes, err := e.ResolveInboxes(context.Background(), post, author)
	require.NoError(t, err)
	require.Equal(t, []string{mentioned.InboxURL}, inboxes)

	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return store.DeletePost(context.Background(), tx, postID)
	}))

	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := e.DeliverDelete(context.Background(), tx, postURL, author.ID, inboxes)
		return err
	}))

	n, err := q.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, int32(1), received.Load())

	var activity ap.Activity
	require.NoError(t, json.Unmarshal(body, &activity))
	require.Equal(t, ap.Delete, activity.Type)
	require.Equal(t, postURL+"#delete", activity.ID)
}

type rejectAll struct{}

func (rejectAll) Transform(context.Context, sandbox.Direction, []byte) (sandbox.Verdict, error) {
	return sandbox.Reject, nil
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
