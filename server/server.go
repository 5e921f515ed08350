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

// Package server implements the inbound HTTP surface: actor documents,
// paged outboxes, followers collections, WebFinger and host-meta discovery
// and NodeInfo, grounded on the teacher's fed package (fed/user.go,
// fed/outbox.go, fed/followers.go, fed/webfinger.go, fed/nodeinfo.go,
// fed/hostmeta.go, fed/listener.go) and generalized from tootik's single
// hardcoded Gemini-capsule actor scheme to fedcore's normalized store.
package server

import (
	"time"

	"github.com/corvidfed/fedcore/config"
	"github.com/corvidfed/fedcore/fetch"
	"github.com/corvidfed/fedcore/lock"
	"github.com/corvidfed/fedcore/store"
)

// Server holds the dependencies every handler in this package needs:
// the object store and fetcher the inbox processor already uses, plus the
// instance's own addressing and metadata.
type Server struct {
	Store   *store.Store
	Fetcher *fetch.Fetcher

	Domain string
	Scheme string

	Instance      config.Instance
	MaxRequestAge time.Duration

	nodeInfoMu    lock.Lock
	nodeInfoAt    time.Time
	nodeInfoStats nodeInfoUsage
}

// New builds a Server.
func New(s *store.Store, f *fetch.Fetcher, domain, scheme string, instance config.Instance, maxRequestAge time.Duration) *Server {
	return &Server{
		Store:         s,
		Fetcher:       f,
		Domain:        domain,
		Scheme:        scheme,
		Instance:      instance,
		MaxRequestAge: maxRequestAge,
		nodeInfoMu:    lock.New(),
	}
}
