/*
Copyright 2025 Dima Krasner

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

package ap

import (
	"net/url"
	"strings"
)

// IsIDValid determines whether a string can be a valid actor, object or
// activity ID: an https URL with no userinfo, no query and no path
// traversal.
func IsIDValid(id string) bool {
	if id == "" {
		return false
	}

	u, err := url.Parse(id)
	if err != nil {
		return false
	}

	if u.Scheme != "https" {
		return false
	}

	if u.User != nil {
		return false
	}

	if u.RawQuery != "" {
		return false
	}

	if strings.Contains(u.Path, "/..") {
		return false
	}

	return true
}

// Origins returns the origin (authority) and the host of an ActivityPub ID.
// For this implementation the two are always identical; the split exists so
// callers match the shape a federated deployment with gateway-fronted IDs
// would need.
func Origins(id string) (string, string, error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", "", err
	}

	return u.Host, u.Host, nil
}

// Origin returns the origin (host) of an ActivityPub ID.
func Origin(id string) (string, error) {
	origin, _, err := Origins(id)
	return origin, err
}
