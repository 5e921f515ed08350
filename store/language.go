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

// DefaultFTSTokenizer is used whenever a post's language has no dedicated
// FTS5 tokenizer configuration below.
const DefaultFTSTokenizer = "porter unicode61"

// isoToFTSTokenizer maps ISO 639-3 codes to the FTS5 tokenizer
// configuration used for that language's posts, playing the role the
// source's Postgres `iso_code_to_language(code) -> regconfig` function
// plays for `to_tsvector`/`to_tsquery`. SQLite's FTS5 module has no
// per-language stemming dictionaries built in, so non-English entries
// fall back to the unicode-aware tokenizer rather than a stemmed one.
var isoToFTSTokenizer = map[string]string{
	"eng": "porter unicode61",
	"fra": "unicode61",
	"deu": "unicode61",
	"spa": "unicode61",
	"por": "unicode61",
	"ita": "unicode61",
	"rus": "unicode61",
	"jpn": "unicode61",
	"cmn": "unicode61",
	"kor": "unicode61",
}

// FTSTokenizerForLanguage returns the FTS5 tokenizer configuration for an
// ISO 639-3 language code, defaulting to DefaultFTSTokenizer (the same
// configuration as "eng", matching the source's "english" default) for
// unrecognised or empty codes.
func FTSTokenizerForLanguage(isoCode string) string {
	if t, ok := isoToFTSTokenizer[isoCode]; ok {
		return t
	}
	return DefaultFTSTokenizer
}
