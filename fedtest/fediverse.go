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
	"net/http"
	"testing"
)

// Fediverse is a set of in-process instances that can deliver to and
// fetch from each other without touching the network.
type Fediverse Client

// NewFediverse builds one Server per domain and wires them together: every
// http.Client any of them builds for outbound requests routes through the
// same Client, so a delivery or fetch addressed to one of these domains
// lands on the matching in-process Server instead of dialing out.
func NewFediverse(t *testing.T, domain ...string) Fediverse {
	f := Client{}

	prevTransport := http.DefaultTransport
	http.DefaultTransport = f
	t.Cleanup(func() { http.DefaultTransport = prevTransport })

	for _, d := range domain {
		NewServer(t, d, f)
	}

	return Fediverse(f)
}

// Settle drains every server's job queue, round after round, until a full
// round claims nothing anywhere - draining one server's queue can itself
// enqueue work on another (a delivery that triggers an inbound Accept, say)
// so a single pass over the set is not enough. This is the in-process
// equivalent of waiting for a real deployment's delivery and inbox workers
// to catch up.
func (f Fediverse) Settle(t *testing.T) {
	ctx := t.Context()

	for {
		again := false

		for _, s := range f {
			if s.drainOnce(ctx) {
				again = true
			}
		}

		if !again {
			return
		}
	}
}
