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

package sandbox

import (
	"context"
	"encoding/json"

	"github.com/corvidfed/fedcore/ap"
)

// DenyList rejects any activity whose actor or id belongs to one of a fixed
// set of hosts, regardless of direction. It sits below the federation filter
// (C2, which blocks at the HTTP-fetch layer) as a second, activity-level
// check an operator can apply without re-fetching anything, modeled on the
// teacher's host blocklist (filter.Filter) but operating on an
// already-parsed activity instead of a URL.
type DenyList struct {
	hosts map[string]struct{}
}

// NewDenyList builds a DenyList from a set of hostnames.
func NewDenyList(hosts []string) *DenyList {
	d := &DenyList{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		d.hosts[h] = struct{}{}
	}
	return d
}

type activityActor struct {
	Actor string `json:"actor"`
	ID    string `json:"id"`
}

func (d *DenyList) Transform(_ context.Context, _ Direction, activityJSON []byte) (Verdict, error) {
	if len(d.hosts) == 0 {
		return Accept, nil
	}

	var a activityActor
	if err := json.Unmarshal(activityJSON, &a); err != nil {
		return Accept, nil // malformed JSON is rejected earlier in the pipeline, not here
	}

	for _, id := range []string{a.Actor, a.ID} {
		if id == "" {
			continue
		}
		if host, err := ap.Origin(id); err == nil {
			if _, blocked := d.hosts[host]; blocked {
				return Reject, nil
			}
		}
	}

	return Accept, nil
}

var _ Policy = (*DenyList)(nil)
