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

// Package fetch implements the fetcher/resolver (C5): it retrieves remote
// actors, posts and custom emoji over HTTP, enforces content-type
// discipline and the id-authority check, and coordinates WebFinger-based
// acct: resolution.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/corvidfed/fedcore/ap"
	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/cache"
	"github.com/corvidfed/fedcore/config"
	"github.com/corvidfed/fedcore/filter"
	"github.com/corvidfed/fedcore/httpsig"
	"github.com/corvidfed/fedcore/lock"
	"github.com/corvidfed/fedcore/store"
)

const userAgent = "fedcore/1.0 (+https://github.com/corvidfed/fedcore)"

// acceptHeader is the content negotiation string every fetch sends, asking
// for either activity+json or JSON-LD with the activitystreams profile.
const acceptHeader = `application/ld+json; profile="https://www.w3.org/ns/activitystreams", application/activity+json`

var (
	// ErrGone means the remote resource returned 410 and was tombstoned.
	ErrGone = errors.New("resource is gone")
	// ErrNotFound means the remote resource returned 404.
	ErrNotFound = errors.New("resource not found")
	// ErrTooDeep means a recursive fetch exceeded its depth bound.
	ErrTooDeep = errors.New("fetch depth exceeded")
)

const lockShards = 64

// Fetcher retrieves and caches remote ActivityPub documents.
type Fetcher struct {
	Store    *store.Store
	Cache    cache.Cache
	Filter   interface{ AllowsURL(string) (bool, error) }
	Client   *http.Client
	Key      httpsig.Key
	Domain   string
	MaxDepth int

	MaxResponseBodySize  int64
	ActorStalenessPeriod time.Duration
	WebFingerCacheTTL    time.Duration

	locks [lockShards]lock.Lock
}

// New builds a Fetcher from a resolved configuration.
func New(s *store.Store, c cache.Cache, f *filter.Filter, key httpsig.Key, cfg *config.Config) *Fetcher {
	fe := &Fetcher{
		Store:                s,
		Cache:                c,
		Filter:               f,
		Client:               &http.Client{Timeout: cfg.Messaging.DeliveryTimeout},
		Key:                  key,
		Domain:               cfg.URL.Domain,
		MaxDepth:             cfg.MaxReplyDepth,
		MaxResponseBodySize:  cfg.MaxResponseBodySize,
		ActorStalenessPeriod: cfg.ActorStalenessPeriod,
		WebFingerCacheTTL:    cfg.WebFingerCacheTTL,
	}
	for i := range fe.locks {
		fe.locks[i] = lock.New()
	}
	return fe
}

// hostLock returns the per-host lock guarding concurrent fetches of the
// same remote resource, sharded by a cheap hash into lockShards locks so
// unrelated hosts contend only when they land on the same shard, mirroring
// the teacher resolver's lock pool.
func (f *Fetcher) hostLock(host string) lock.Lock {
	h := sha256.Sum256([]byte(host))
	idx := int(h[0]) % lockShards
	return f.locks[idx]
}

// get issues a signed GET against rawURL with the fixed Accept header and
// enforces ActivityPub content-type discipline and the response size cap.
// Use it for actor, object and collection documents.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	return f.getWithAccept(ctx, rawURL, acceptHeader, isAcceptableContentType)
}

// getWithAccept is the shared signed-GET primitive: filter check, Cavage
// signature, status-code classification and the response size cap, with
// the Accept header and the response content-type acceptance rule left to
// the caller. WebFinger JRDs use a different content-type family than
// ActivityPub documents, so they go through this instead of get.
func (f *Fetcher) getWithAccept(ctx context.Context, rawURL, accept string, acceptableContentType func(string) bool) ([]byte, error) {
	allowed, err := f.Filter.AllowsURL(rawURL)
	if err != nil {
		return nil, apperr.New(apperr.MissingHost, err)
	}
	if !allowed {
		return nil, apperr.New(apperr.BlockedInstance, fmt.Errorf("federation filter denies %s", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.New(apperr.UrlParse, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	if err := httpsig.Sign(req, f.Key, time.Now()); err != nil {
		return nil, apperr.New(apperr.HttpClient, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.HttpClient, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusGone:
		return nil, ErrGone
	case http.StatusNotFound:
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 500 {
		return nil, apperr.New(apperr.HttpClient, fmt.Errorf("%s: server error %d", rawURL, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.InvalidResponse, fmt.Errorf("%s: status %d", rawURL, resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if acceptableContentType != nil && !acceptableContentType(contentType) {
		return nil, apperr.New(apperr.InvalidResponse, fmt.Errorf("%s: unacceptable content type %q", rawURL, contentType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxResponseBodySize))
	if err != nil {
		return nil, apperr.New(apperr.HttpClient, err)
	}

	return body, nil
}

func isAcceptableContentType(contentType string) bool {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	if mediaType == "application/activity+json" {
		return true
	}

	if mediaType == "application/ld+json" {
		return params["profile"] == "https://www.w3.org/ns/activitystreams"
	}

	return false
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func sameOrSubdomainHost(host, expected string) bool {
	if host == expected {
		return true
	}
	return len(host) > len(expected) && host[len(host)-len(expected)-1:] == "."+expected
}

func parseIDAuthority(id string) (string, error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("id has no host")
	}
	return u.Host, nil
}
