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

package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcess_SetGet(t *testing.T) {
	c := NewInProcess(10)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 60)
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestInProcess_Expiry(t *testing.T) {
	c := NewInProcess(10)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	time.Sleep(time.Millisecond * 10)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestInProcess_EvictsLRU(t *testing.T) {
	c := NewInProcess(2)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), 60)
	c.Set(ctx, "b", []byte("2"), 60)
	c.Set(ctx, "c", []byte("3"), 60)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	_, ok = c.Get(ctx, "b")
	assert.True(t, ok)

	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestInProcess_Delete(t *testing.T) {
	c := NewInProcess(10)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 60)
	c.Delete(ctx, "k")

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedis_SetGetDelete(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedis(client, "fedcore", "actors", slog.Default())
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte("v"), 60)
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	c.Delete(ctx, "k")
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedis_Expiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedis(client, "fedcore", "actors", slog.Default())
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 1)
	mr.FastForward(time.Second * 2)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNoop(t *testing.T) {
	var c Noop
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 60)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}
