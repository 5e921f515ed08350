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

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus_KnownKinds(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, HTTPStatus(New(BlockedInstance, errors.New("x"))))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(InvalidDocument, errors.New("x"))))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(New(DatabasePool, errors.New("x"))))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(New(MissingSignature, errors.New("x"))))
	assert.Equal(t, http.StatusUnsupportedMediaType, HTTPStatus(New(UnsupportedMediaType, errors.New("x"))))
}

func TestHTTPStatus_Unclassified(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(HttpClient, errors.New("x"))))
	assert.True(t, Retryable(New(DatabasePool, errors.New("x"))))
	assert.False(t, Retryable(New(BlockedInstance, errors.New("x"))))
	assert.True(t, Retryable(errors.New("plain")))
}

func TestAs_UnwrapsWrapped(t *testing.T) {
	base := New(InvalidResponse, errors.New("host mismatch"))
	wrapped := fmt.Errorf("fetch failed: %w", base)

	kind, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, InvalidResponse, kind)
}
