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
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/corvidfed/fedcore/store"
)

// nodeInfoUpdateInterval bounds how often a Regular or Random usage
// counter is recomputed, matching the teacher's addNodeInfo refresh
// window.
const nodeInfoUpdateInterval = time.Hour * 6

type nodeInfoUsage struct {
	Users struct {
		Total int64 `json:"total"`
	} `json:"users"`
	LocalPosts int64 `json:"localPosts"`
}

// ServeNodeInfoDiscovery handles GET /.well-known/nodeinfo, pointing at the
// 2.1 document.
func (s *Server) ServeNodeInfoDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"links": []map[string]string{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.1",
				"href": fmt.Sprintf("%s://%s/nodeinfo/2.1", s.Scheme, s.Domain),
			},
		},
	}
	writeJSON(w, http.StatusOK, "application/json; charset=utf-8", doc)
}

// ServeNodeInfo handles GET /nodeinfo/2.1, reporting usage counters whose
// content depends on the instance's configured statistics mode: Zero
// reports all-zero counters unconditionally, Random reports a cached
// plausible-looking count without touching the database, and Regular (the
// default) runs the real count query, exactly as the teacher's addNodeInfo
// does, just bumped from 2.0 to 2.1.
func (s *Server) ServeNodeInfo(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"version": "2.1",
		"software": map[string]string{
			"name":    "fedcore",
			"version": "1.0.0",
		},
		"protocols":        []string{"activitypub"},
		"services":         map[string]any{"inbound": []string{}, "outbound": []string{}},
		"openRegistration": s.Instance.OpenRegistration,
		"usage":            s.usage(r.Context()),
		"metadata": map[string]any{
			"nodeName":        s.Instance.Title,
			"nodeDescription": s.Instance.Description,
		},
	}
	writeJSON(w, http.StatusOK, `application/json; profile="http://nodeinfo.diaspora.software/ns/schema/2.1#"`, doc)
}

// usage returns the cached usage counters, refreshing them at most once
// every nodeInfoUpdateInterval, guarded by nodeInfoMu the same way the
// teacher's addNodeInfo guards its own periodically-refreshed counter
// cache.
func (s *Server) usage(ctx context.Context) nodeInfoUsage {
	if err := s.nodeInfoMu.Lock(ctx); err != nil {
		return s.nodeInfoStats
	}
	defer s.nodeInfoMu.Unlock()

	if !s.nodeInfoAt.IsZero() && time.Since(s.nodeInfoAt) < nodeInfoUpdateInterval {
		return s.nodeInfoStats
	}

	var stats nodeInfoUsage

	switch s.Instance.StatisticsMode {
	case "Zero":
		// all-zero, and cached like the others so a flood of requests
		// doesn't each recompute the (trivial) zero value.

	case "Random":
		stats.Users.Total = int64(1 + rand.Intn(50))
		stats.LocalPosts = int64(1 + rand.Intn(500))

	default:
		if n, err := store.CountLocalActors(ctx, s.Store.DB); err == nil {
			stats.Users.Total = n
		} else {
			slog.ErrorContext(ctx, "Failed to count local actors for nodeinfo", "error", err)
		}
		if n, err := store.CountLocalPosts(ctx, s.Store.DB); err == nil {
			stats.LocalPosts = n
		} else {
			slog.ErrorContext(ctx, "Failed to count local posts for nodeinfo", "error", err)
		}
	}

	s.nodeInfoStats = stats
	s.nodeInfoAt = time.Now()

	return stats
}
