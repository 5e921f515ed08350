package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollow_InsertPendingThenApprove(t *testing.T) {
	s := newTestStore(t)
	account := insertLocalActor(t, s, "alice")
	follower := insertRemoteActor(t, s, "bob", "remote.example")

	f := &Follow{AccountID: account.ID, FollowerID: follower.ID, URL: "https://remote.example/follows/1"}
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertFollow(context.Background(), tx, f, false) })
	require.NoError(t, err)

	got, err := GetFollowByURL(context.Background(), s.DB, f.URL)
	require.NoError(t, err)
	assert.False(t, got.ApprovedAt.Valid)

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return ApproveFollow(context.Background(), tx, f.URL) })
	require.NoError(t, err)

	got, err = GetFollowByURL(context.Background(), s.DB, f.URL)
	require.NoError(t, err)
	assert.True(t, got.ApprovedAt.Valid)
}

func TestFollow_ApproveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	account := insertLocalActor(t, s, "alice")
	follower := insertRemoteActor(t, s, "bob", "remote.example")

	f := &Follow{AccountID: account.ID, FollowerID: follower.ID, URL: "https://remote.example/follows/2"}
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertFollow(context.Background(), tx, f, false) })
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return ApproveFollow(context.Background(), tx, f.URL) })
	require.NoError(t, err)

	first, err := GetFollowByURL(context.Background(), s.DB, f.URL)
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return ApproveFollow(context.Background(), tx, f.URL) })
	require.NoError(t, err)

	second, err := GetFollowByURL(context.Background(), s.DB, f.URL)
	require.NoError(t, err)

	assert.Equal(t, first.ApprovedAt.Int64, second.ApprovedAt.Int64)
}

func TestFollow_DuplicatePairIsNoop(t *testing.T) {
	s := newTestStore(t)
	account := insertLocalActor(t, s, "alice")
	follower := insertRemoteActor(t, s, "bob", "remote.example")

	f1 := &Follow{AccountID: account.ID, FollowerID: follower.ID, URL: "https://remote.example/follows/3"}
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertFollow(context.Background(), tx, f1, true) })
	require.NoError(t, err)

	f2 := &Follow{AccountID: account.ID, FollowerID: follower.ID, URL: "https://remote.example/follows/4"}
	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertFollow(context.Background(), tx, f2, true) })
	require.NoError(t, err)

	_, err = GetFollowByURL(context.Background(), s.DB, f2.URL)
	assert.ErrorIs(t, err, ErrFollowNotFound)
}

func TestFollow_ListApprovedFollowerInboxes_DedupsSharedInbox(t *testing.T) {
	s := newTestStore(t)
	account := insertLocalActor(t, s, "alice")
	f1 := insertRemoteActor(t, s, "bob", "remote.example")
	f2 := insertRemoteActor(t, s, "carol", "remote.example")

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return InsertFollow(context.Background(), tx, &Follow{AccountID: account.ID, FollowerID: f1.ID, URL: "https://remote.example/follows/a"}, true)
	})
	require.NoError(t, err)
	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return InsertFollow(context.Background(), tx, &Follow{AccountID: account.ID, FollowerID: f2.ID, URL: "https://remote.example/follows/b"}, true)
	})
	require.NoError(t, err)

	inboxes, err := ListApprovedFollowerInboxes(context.Background(), s.DB, account.ID)
	require.NoError(t, err)
	require.Len(t, inboxes, 1)
	assert.Equal(t, "https://remote.example/inbox", inboxes[0])
}

func TestFollow_DeleteByURL(t *testing.T) {
	s := newTestStore(t)
	account := insertLocalActor(t, s, "alice")
	follower := insertRemoteActor(t, s, "bob", "remote.example")

	f := &Follow{AccountID: account.ID, FollowerID: follower.ID, URL: "https://remote.example/follows/5"}
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertFollow(context.Background(), tx, f, true) })
	require.NoError(t, err)

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return DeleteFollowByURL(context.Background(), tx, f.URL) })
	require.NoError(t, err)

	_, err = GetFollowByURL(context.Background(), s.DB, f.URL)
	assert.ErrorIs(t, err, ErrFollowNotFound)
}
