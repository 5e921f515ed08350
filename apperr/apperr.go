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

// Package apperr centralizes the error kinds the federation core raises and
// their mapping to HTTP status codes and retry policy, so the HTTP layer
// and the job runner share one classification instead of scattering
// errors.Is switches across packages.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the purposes of HTTP status mapping and
// job-queue retry policy.
type Kind int

const (
	// Unknown is the zero value; treated as a transient internal error.
	Unknown Kind = iota
	// BlockedInstance means the federation filter rejected a URL.
	BlockedInstance
	// InvalidDocument means a fetched or received document failed schema
	// or content-type validation.
	InvalidDocument
	// InvalidResponse means a remote server's response was structurally
	// unacceptable (wrong content type, id-authority mismatch).
	InvalidResponse
	// MissingHost means a URL had no host component.
	MissingHost
	// UrlParse means a URL failed to parse.
	UrlParse
	// DatabasePool means a transient failure acquiring or using a
	// database connection.
	DatabasePool
	// Cache means a cache operation failed; always logged and swallowed,
	// never surfaced to a caller.
	Cache
	// HttpClient means an outbound HTTP request failed at the transport
	// level.
	HttpClient
	// ExpiredSignature means a Signature header's Date was outside the
	// accepted skew window.
	ExpiredSignature
	// MissingSignature means a request had no Signature header.
	MissingSignature
	// InvalidSignatureHeader means a Signature header was structurally
	// malformed.
	InvalidSignatureHeader
	// UnsupportedMediaType means a media upload's content type is not
	// accepted.
	UnsupportedMediaType
)

// Error pairs a Kind with an underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "apperr: " + e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// As extracts the Kind of err if it (or something it wraps) is an *Error.
// ok is false for errors with no known classification.
func As(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Unknown, false
}

// Retryable reports whether an error's class should be retried by the job
// queue rather than treated as a permanent drop.
func Retryable(err error) bool {
	kind, ok := As(err)
	if !ok {
		return true
	}

	switch kind {
	case Unknown, DatabasePool, HttpClient:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error's class to the status code the inbound HTTP
// layer should respond with.
func HTTPStatus(err error) int {
	kind, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch kind {
	case BlockedInstance:
		return http.StatusForbidden
	case InvalidDocument, InvalidResponse, MissingHost, UrlParse:
		return http.StatusBadRequest
	case DatabasePool:
		return http.StatusServiceUnavailable
	case ExpiredSignature, MissingSignature, InvalidSignatureHeader:
		return http.StatusUnauthorized
	case UnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case BlockedInstance:
		return "BlockedInstance"
	case InvalidDocument:
		return "InvalidDocument"
	case InvalidResponse:
		return "InvalidResponse"
	case MissingHost:
		return "MissingHost"
	case UrlParse:
		return "UrlParse"
	case DatabasePool:
		return "DatabasePool"
	case Cache:
		return "Cache"
	case HttpClient:
		return "HttpClient"
	case ExpiredSignature:
		return "ExpiredSignature"
	case MissingSignature:
		return "MissingSignature"
	case InvalidSignatureHeader:
		return "InvalidSignatureHeader"
	case UnsupportedMediaType:
		return "UnsupportedMediaType"
	default:
		return "Unknown"
	}
}
