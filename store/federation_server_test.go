package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFederationServer_TouchAndLastSeen(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := LastSeenFederationServer(context.Background(), s.DB, "remote.example")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return TouchFederationServer(context.Background(), tx, "remote.example") })
	require.NoError(t, err)

	_, ok, err = LastSeenFederationServer(context.Background(), s.DB, "remote.example")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFederationServer_IsStale(t *testing.T) {
	s := newTestStore(t)

	stale, err := IsStale(context.Background(), s.DB, "never-seen.example", time.Hour, time.Now())
	require.NoError(t, err)
	assert.True(t, stale)

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return TouchFederationServer(context.Background(), tx, "fresh.example") })
	require.NoError(t, err)

	stale, err = IsStale(context.Background(), s.DB, "fresh.example", time.Hour, time.Now())
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = IsStale(context.Background(), s.DB, "fresh.example", time.Hour, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, stale)
}
