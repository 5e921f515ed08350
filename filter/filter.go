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

// Package filter implements the federation allow/deny host policy.
package filter

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// Mode selects whether Patterns is an allow-list or a deny-list.
type Mode int

const (
	// Deny permits every host except those matching Patterns. An empty
	// Patterns list under Deny mode permits all hosts.
	Deny Mode = iota
	// Allow permits only hosts matching Patterns.
	Allow
)

// ErrMissingHost is returned when a URL has no host component to match.
var ErrMissingHost = errors.New("missing host")

// Filter decides whether a host or URL is permitted under an allow-list or
// deny-list glob policy. The zero value denies nothing (an empty Deny
// filter).
type Filter struct {
	Mode     Mode
	Patterns []string
}

// New creates a Filter in the given mode over patterns. Patterns are
// path.Match-style globs matched against the lowercased host.
func New(mode Mode, patterns []string) *Filter {
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &Filter{Mode: mode, Patterns: lowered}
}

func (f *Filter) matches(host string) bool {
	host = strings.ToLower(host)
	for _, p := range f.Patterns {
		if ok, err := path.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}

// AllowsHost determines whether host is permitted under the policy.
func (f *Filter) AllowsHost(host string) bool {
	if host == "" {
		return false
	}

	matched := f.matches(host)
	if f.Mode == Allow {
		return matched
	}
	return !matched
}

// AllowsURL extracts the host from rawURL and applies AllowsHost. It
// returns ErrMissingHost if rawURL has no host component.
func (f *Filter) AllowsURL(rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}

	if u.Host == "" {
		return false, ErrMissingHost
	}

	return f.AllowsHost(u.Hostname()), nil
}
