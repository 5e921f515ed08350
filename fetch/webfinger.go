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

package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"

	"github.com/corvidfed/fedcore/apperr"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

const (
	activityJSONType = "application/activity+json"
	ldJSONASType     = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// resolveWebFinger resolves acct:user@domain to the actor's canonical ID,
// caching the resolved ID for WebFingerCacheTTL. A rel=self link with a compatible
// type wins; absent that, a same-host href with a compatible type is
// accepted too, matching the field ordering some Mastodon-compatible
// servers emit.
func (f *Fetcher) resolveWebFinger(ctx context.Context, user, domain string) (string, error) {
	cacheKey := "webfinger:" + user + "@" + domain

	if f.Cache != nil {
		if cached, ok := f.Cache.Get(ctx, cacheKey); ok {
			return string(cached), nil
		}
	}

	resource := fmt.Sprintf("acct:%s@%s", user, domain)
	finger := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", domain, resource)

	body, err := f.getWithAccept(ctx, finger, "application/jrd+json, application/json", isAcceptableJRDContentType)
	if err != nil {
		return "", err
	}

	var wf webfingerResponse
	if err := json.Unmarshal(body, &wf); err != nil {
		return "", apperr.New(apperr.InvalidDocument, err)
	}

	href := ""
	for _, link := range wf.Links {
		if !isCompatibleType(link.Type) {
			continue
		}
		if link.Rel == "self" {
			href = link.Href
			break
		}
		if href == "" && link.Href != "" {
			if u, err := url.Parse(link.Href); err == nil && u.Host == domain {
				href = link.Href
			}
		}
	}

	if href == "" {
		return "", apperr.New(apperr.InvalidResponse, errors.New("no compatible profile link in webfinger response"))
	}

	if f.Cache != nil {
		f.Cache.Set(ctx, cacheKey, []byte(href), int64(f.WebFingerCacheTTL.Seconds()))
	}

	return href, nil
}

func isCompatibleType(t string) bool {
	return t == "" || t == activityJSONType || t == ldJSONASType
}

func isAcceptableJRDContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/jrd+json" || mediaType == "application/json"
}
