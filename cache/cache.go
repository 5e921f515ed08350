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

// Package cache provides a typed key-value store with TTL, backed either by
// an in-process map or a shared Redis instance.
package cache

import "context"

// Cache is a typed key-value store with TTL. Misses are never distinguished
// from absence; writes are best-effort and never fail the caller.
type Cache interface {
	// Get reads the raw bytes stored under key. The second return value is
	// false on a miss (expired or never set).
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key with the given TTL. Errors are logged by
	// the implementation, never returned, matching the best-effort write
	// policy callers depend on.
	Set(ctx context.Context, key string, value []byte, ttl int64)

	// Delete removes key, if present.
	Delete(ctx context.Context, key string)
}
