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

package fedtest

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corvidfed/fedcore/cache"
	"github.com/corvidfed/fedcore/config"
	"github.com/corvidfed/fedcore/deliver"
	"github.com/corvidfed/fedcore/fetch"
	"github.com/corvidfed/fedcore/filter"
	"github.com/corvidfed/fedcore/httpsig"
	"github.com/corvidfed/fedcore/inbox"
	"github.com/corvidfed/fedcore/jobqueue"
	"github.com/corvidfed/fedcore/sandbox"
	"github.com/corvidfed/fedcore/server"
	"github.com/corvidfed/fedcore/store"
	"github.com/corvidfed/fedcore/store/migrations"
)

// Server is one in-process instance of a federated deployment, wired the
// same way cmd/fedcore's entrypoint wires a real one, except every
// outbound request is routed in-memory by a Client instead of dialing out.
type Server struct {
	Test   *testing.T
	Domain string
	Config *config.Config

	Store   *store.Store
	Cache   cache.Cache
	Filter  *filter.Filter
	Fetcher *fetch.Fetcher
	Queue   *jobqueue.Queue
	Deliver *deliver.Engine
	Inbox   *inbox.Processor
	Handler http.Handler

	dbPath string
}

// NewServer builds domain's store, wires every component against it, and
// registers it in client so other servers in the same Client can deliver
// to and fetch from it. client must already be installed as the
// transport backing every http.Client this package's components create;
// see NewFediverse.
func NewServer(t *testing.T, domain string, client Client) *Server {
	var cfg config.Config
	cfg.Database.Path = filepath.Join(t.TempDir(), domain+".sqlite3")
	cfg.URL.Domain = domain
	cfg.URL.Scheme = "https"
	cfg.FillDefaults()

	cfg.Cache.Backend = "memory"
	cfg.ResolverCacheTTL = 0
	cfg.ActorStalenessPeriod = 0
	cfg.WebFingerCacheTTL = 0
	cfg.Messaging.DeliveryTimeout = time.Second * 5
	cfg.JobQueue.LeaseDuration = time.Minute

	s, err := store.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(cfg.Database.Path)
	})

	if err := migrations.Run(t.Context(), s.DB); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	c := cache.NewInProcess(cfg.Cache.MaxItems)

	filterMode := filter.Deny
	if cfg.FederationFilter.Mode == "allow" {
		filterMode = filter.Allow
	}
	f := filter.New(filterMode, cfg.FederationFilter.Domains)

	key, err := httpsig.Generate(fmt.Sprintf("https://%s/actor#main-key", domain))
	if err != nil {
		t.Fatalf("Failed to generate server key: %v", err)
	}

	fetcher := fetch.New(s, c, f, key, &cfg)
	fetcher.Client = &http.Client{Transport: client, Timeout: cfg.Messaging.DeliveryTimeout}

	queue := jobqueue.New(s, &cfg.JobQueue)
	engine := deliver.New(s, queue, sandbox.AllowAll{}, &cfg.Messaging)

	processor := inbox.New(s, fetcher, f, engine, sandbox.AllowAll{}, domain, cfg.MaxRequestBodySize, cfg.MaxRequestAge)

	srv := server.New(s, fetcher, domain, cfg.URL.Scheme, cfg.Instance, cfg.MaxRequestAge)

	listener := &server.Listener{
		Server: srv,
		Inbox:  processor,
		Plain:  true,
	}
	handler, err := listener.NewHandler()
	if err != nil {
		t.Fatalf("Failed to build handler: %v", err)
	}

	fs := &Server{
		Test:    t,
		Domain:  domain,
		Config:  &cfg,
		Store:   s,
		Cache:   c,
		Filter:  f,
		Fetcher: fetcher,
		Queue:   queue,
		Deliver: engine,
		Inbox:   processor,
		Handler: handler,
		dbPath:  cfg.Database.Path,
	}

	client[domain] = fs

	return fs
}

// CreateActor inserts a local actor directly into the store, bypassing
// registration (fedcore has no registration endpoint of its own to drive
// through HTTP), and returns it together with its signing key.
func (s *Server) CreateActor(username string) (*store.Actor, httpsig.Key) {
	url := fmt.Sprintf("https://%s/users/%s", s.Domain, username)

	key, err := httpsig.Generate(url + "#main-key")
	if err != nil {
		s.Test.Fatalf("Failed to generate actor key: %v", err)
	}
	priv := key.PrivateKey.(*rsa.PrivateKey)

	pub, err := httpsig.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		s.Test.Fatalf("Failed to encode actor public key: %v", err)
	}

	now := time.Now().Unix()
	actor := &store.Actor{
		URL:           url,
		Username:      username,
		InboxURL:      url + "/inbox",
		PublicKeyPEM:  string(pub),
		PrivateKeyPEM: sql.NullString{String: string(httpsig.EncodePrivateKeyPEM(priv)), Valid: true},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	actor.SharedInboxURL = sql.NullString{String: fmt.Sprintf("https://%s/inbox", s.Domain), Valid: true}
	actor.OutboxURL = sql.NullString{String: url + "/outbox", Valid: true}
	actor.FollowersURL = sql.NullString{String: url + "/followers", Valid: true}

	if err := s.Store.WithTx(s.Test.Context(), func(tx *sql.Tx) error {
		return store.InsertActor(s.Test.Context(), tx, actor)
	}); err != nil {
		s.Test.Fatalf("Failed to insert actor: %v", err)
	}

	return actor, key
}

// CreatePost inserts a local public post by author and schedules its
// Create{Note} delivery, returning the post.
func (s *Server) CreatePost(author *store.Actor, content string) *store.Post {
	ctx := s.Test.Context()

	id, err := uuid.NewV7()
	if err != nil {
		s.Test.Fatalf("Failed to generate post id: %v", err)
	}

	post := &store.Post{
		ID:         id.String(),
		AccountID:  author.ID,
		URL:        fmt.Sprintf("https://%s/users/%s/posts/%s", s.Domain, author.Username, id.String()),
		Content:    content,
		Language:   "eng",
		Visibility: store.Public,
		IsLocal:    true,
	}

	if err := s.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertPost(ctx, tx, post); err != nil {
			return err
		}
		_, err := s.Deliver.DeliverCreate(ctx, tx, post.ID)
		return err
	}); err != nil {
		s.Test.Fatalf("Failed to create post: %v", err)
	}

	return post
}

// drainOnce claims and runs one batch of due jobs, reporting whether it
// claimed anything. Used by Fediverse.Settle, which keeps calling this
// across every server in the set until a full round is a no-op.
func (s *Server) drainOnce(ctx context.Context) bool {
	n, err := s.Queue.ProcessBatch(ctx)
	if err != nil {
		s.Test.Fatalf("Failed to process job batch on %s: %v", s.Domain, err)
	}
	return n > 0
}
