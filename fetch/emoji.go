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
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/corvidfed/fedcore/apperr"
	"github.com/corvidfed/fedcore/store"
)

// emojiDocument is the subset of an Emoji tag's icon object fedcore cares
// about: a single image attachment carrying the glyph.
type emojiDocument struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon struct {
		URL       string `json:"url"`
		MediaType string `json:"mediaType"`
	} `json:"icon"`
}

// FetchEmoji resolves a remote custom emoji by its tag URL, persisting its
// backing media attachment alongside the custom_emoji row.
func (f *Fetcher) FetchEmoji(ctx context.Context, url string) (*store.CustomEmoji, error) {
	authority, err := parseIDAuthority(url)
	if err != nil {
		return nil, apperr.New(apperr.UrlParse, err)
	}

	shortcode := strings.Trim(pathBase(url), ":")

	if existing, err := store.GetCustomEmojiByShortcode(ctx, f.Store.DB, shortcode, authority); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrCustomEmojiNotFound) {
		return nil, apperr.New(apperr.DatabasePool, err)
	}

	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var doc emojiDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperr.New(apperr.InvalidDocument, err)
	}

	name := strings.Trim(doc.Name, ":")
	if name == "" {
		name = shortcode
	}

	err = f.Store.WithTx(ctx, func(tx *sql.Tx) error {
		media := &store.MediaAttachment{
			ContentType: doc.Icon.MediaType,
			RemoteURL:   sql.NullString{String: doc.Icon.URL, Valid: doc.Icon.URL != ""},
		}
		if err := store.InsertMediaAttachment(ctx, tx, media); err != nil {
			return err
		}

		e := &store.CustomEmoji{
			RemoteID:          sql.NullString{String: doc.ID, Valid: doc.ID != ""},
			Shortcode:         name,
			Domain:            sql.NullString{String: authority, Valid: true},
			MediaAttachmentID: media.ID,
		}
		return store.InsertCustomEmoji(ctx, tx, e)
	})
	if err != nil {
		return nil, apperr.New(apperr.DatabasePool, err)
	}

	got, err := store.GetCustomEmojiByShortcode(ctx, f.Store.DB, name, authority)
	if err != nil {
		return nil, apperr.New(apperr.DatabasePool, err)
	}
	return got, nil
}

func pathBase(rawURL string) string {
	idx := strings.LastIndexByte(rawURL, '/')
	if idx < 0 {
		return rawURL
	}
	return rawURL[idx+1:]
}

// ParseShortcodes extracts the distinct :shortcode: references from post
// content, in first-seen order.
func ParseShortcodes(content string) []string {
	var shortcodes []string
	seen := make(map[string]struct{})

	start := -1
	for i, r := range content {
		if r != ':' {
			continue
		}
		if start < 0 {
			start = i
			continue
		}

		code := content[start+1 : i]
		start = i

		if code == "" || strings.ContainsAny(code, " \t\n:") {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		shortcodes = append(shortcodes, code)
	}

	return shortcodes
}
