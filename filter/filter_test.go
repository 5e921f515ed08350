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

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowsHost_DenyEmpty(t *testing.T) {
	f := New(Deny, nil)
	assert.True(t, f.AllowsHost("example.com"))
}

func TestAllowsHost_DenyMatches(t *testing.T) {
	f := New(Deny, []string{"*.spam.example", "blocked.example"})
	assert.False(t, f.AllowsHost("a.spam.example"))
	assert.False(t, f.AllowsHost("blocked.example"))
	assert.True(t, f.AllowsHost("good.example"))
}

func TestAllowsHost_AllowOnlyMatches(t *testing.T) {
	f := New(Allow, []string{"trusted.example"})
	assert.True(t, f.AllowsHost("trusted.example"))
	assert.False(t, f.AllowsHost("other.example"))
}

func TestAllowsHost_Empty(t *testing.T) {
	f := New(Deny, nil)
	assert.False(t, f.AllowsHost(""))
}

func TestAllowsHost_CaseInsensitive(t *testing.T) {
	f := New(Deny, []string{"Blocked.Example"})
	assert.False(t, f.AllowsHost("blocked.example"))
}

func TestAllowsURL_MissingHost(t *testing.T) {
	f := New(Deny, nil)
	_, err := f.AllowsURL("not-a-url-path")
	assert.ErrorIs(t, err, ErrMissingHost)
}

func TestAllowsURL_OK(t *testing.T) {
	f := New(Deny, []string{"blocked.example"})
	allowed, err := f.AllowsURL("https://blocked.example/users/alice")
	assert.NoError(t, err)
	assert.False(t, allowed)
}
