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
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidfed/fedcore/cache"
	"github.com/corvidfed/fedcore/config"
	"github.com/corvidfed/fedcore/filter"
	"github.com/corvidfed/fedcore/httpsig"
	"github.com/corvidfed/fedcore/store"
	"github.com/corvidfed/fedcore/store/migrations"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "fedcore.db")
	s, err := store.Open(&config.Database{Path: dbPath, Options: "_journal_mode=WAL"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, migrations.Run(context.Background(), s.DB))

	key, err := httpsig.Generate("https://origin.example/users/core#main-key")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.FillDefaults()
	cfg.URL.Domain = "origin.example"
	cfg.MaxReplyDepth = 15
	cfg.MaxResponseBodySize = 1024 * 1024
	cfg.ActorStalenessPeriod = time.Hour * 24
	cfg.WebFingerCacheTTL = time.Minute * 10

	f := New(s, cache.NewInProcess(100), filter.New(filter.Deny, nil), key, cfg)
	f.Client = &http.Client{Timeout: time.Second * 5}
	return f
}

// testServerHost rewrites a loopback httptest URL's host into the actual
// listener host, for constructing document ids that match what Fetcher.get
// will actually dial.
func testServerHost(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u.Host
}
