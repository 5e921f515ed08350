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

package jobqueue

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase = time.Second
	backoffCap  = time.Hour
)

// backoff computes a full-jitter exponential delay for a job's
// (failCount+1)-th attempt: a value drawn uniformly from
// [0, min(backoffCap, backoffBase*2^failCount)). Grounded on
// kitsune-retry-policies' ExponentialBackoff, whose own Jitter::Bounded
// mode keeps each retry within a band around the un-jittered delay rather
// than spanning the whole interval down to zero; full jitter is used here
// instead, since an empty job queue has no warm connections to preserve
// and spreading retries across the whole interval minimizes thundering
// herds after a shared outage recovers.
func backoff(failCount int) time.Duration {
	max := backoffBase << uint(min(failCount, 20))
	if max > backoffCap || max <= 0 {
		max = backoffCap
	}

	return time.Duration(rand.Int64N(int64(max)))
}
