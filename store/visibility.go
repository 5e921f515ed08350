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

package store

import "strings"

// Visibility is a post's access class.
type Visibility string

const (
	Public       Visibility = "Public"
	Unlisted     Visibility = "Unlisted"
	FollowerOnly Visibility = "FollowerOnly"
	MentionOnly  Visibility = "MentionOnly"
)

// VisibilityFilter builds the predicate every query returning posts to a
// potentially-unauthenticated viewer must compose.
type VisibilityFilter struct {
	// FetchingAccountID is the viewer's actor id, or "" if unauthenticated.
	FetchingAccountID string
	// IncludeUnlisted opts into Unlisted posts beyond Public ones.
	IncludeUnlisted bool
}

// Predicate returns a SQL boolean expression (referencing the "posts",
// "follows" and "mentions" tables by those names) and its bound arguments,
// implementing:
//   - always include visibility = Public
//   - include Unlisted only when IncludeUnlisted is set; the zero value
//     leaves Unlisted posts out
//   - if FetchingAccountID is known, additionally include posts the viewer
//     authored, FollowerOnly posts of authors the viewer approved-follows,
//     and MentionOnly posts mentioning the viewer
func (f VisibilityFilter) Predicate() (string, []any) {
	var clauses []string
	var args []any

	clauses = append(clauses, "posts.visibility = 'Public'")

	if f.IncludeUnlisted {
		clauses = append(clauses, "posts.visibility = 'Unlisted'")
	}

	if f.FetchingAccountID != "" {
		clauses = append(clauses, "posts.account_id = ?")
		args = append(args, f.FetchingAccountID)

		clauses = append(clauses, `(posts.visibility = 'FollowerOnly' AND EXISTS (
			SELECT 1 FROM follows
			WHERE follows.account_id = posts.account_id
			AND follows.follower_id = ?
			AND follows.approved_at IS NOT NULL
		))`)
		args = append(args, f.FetchingAccountID)

		clauses = append(clauses, `(posts.visibility = 'MentionOnly' AND EXISTS (
			SELECT 1 FROM mentions
			WHERE mentions.post_id = posts.id
			AND mentions.account_id = ?
		))`)
		args = append(args, f.FetchingAccountID)
	}

	return "(" + strings.Join(clauses, " OR ") + ")", args
}
