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

// Package sandbox implements the policy hook (C9): a synchronous
// transform(direction, activity_json) -> Accept|Reject check that inbox
// (inbound) and deliver (outbound) call before an activity is persisted or
// sent. Per SPEC_FULL.md's Non-goals, this is an interface only; there is
// no WASM policy runtime here, mirroring how the teacher's own BlockList
// (filter/filter.go, adapted from fed/block.go) is a plain Go predicate
// rather than a scripting engine.
package sandbox

import "context"

// Direction is which side of federation an activity is being checked on.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Verdict is the policy's decision for one activity.
type Verdict string

const (
	Accept Verdict = "accept"
	Reject Verdict = "reject"
)

// Policy is the synchronous transform hook. Implementations must not block
// on network I/O; the hook runs inline on the inbox/delivery hot path.
type Policy interface {
	Transform(ctx context.Context, direction Direction, activityJSON []byte) (Verdict, error)
}

// AllowAll is the default policy: every activity is accepted unchanged. It
// is what [inbox.Processor] and [deliver.Engine] use absent an operator-
// supplied Policy.
type AllowAll struct{}

func (AllowAll) Transform(context.Context, Direction, []byte) (Verdict, error) {
	return Accept, nil
}

var _ Policy = AllowAll{}
