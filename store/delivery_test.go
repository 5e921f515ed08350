package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelivery_RecordAndCheck(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return RecordDelivery(context.Background(), tx, "https://example.com/activities/1", "https://remote.example/inbox")
	})
	require.NoError(t, err)

	ok, err := WasDelivered(context.Background(), s.DB, "https://example.com/activities/1", "https://remote.example/inbox")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = WasDelivered(context.Background(), s.DB, "https://example.com/activities/1", "https://other.example/inbox")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelivery_RecordIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	insert := func() error {
		return s.WithTx(context.Background(), func(tx *sql.Tx) error {
			return RecordDelivery(context.Background(), tx, "https://example.com/activities/1", "https://remote.example/inbox")
		})
	}
	require.NoError(t, insert())
	require.NoError(t, insert())
}

func TestDelivery_UndeliveredInboxesFiltersDelivered(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return RecordDelivery(context.Background(), tx, "https://example.com/activities/1", "https://a.example/inbox")
	})
	require.NoError(t, err)

	remaining, err := UndeliveredInboxes(context.Background(), s.DB, "https://example.com/activities/1",
		[]string{"https://a.example/inbox", "https://b.example/inbox"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example/inbox"}, remaining)
}
