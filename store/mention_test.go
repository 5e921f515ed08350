package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMention_InsertAndListAccountIDs(t *testing.T) {
	s := newTestStore(t)
	author := insertLocalActor(t, s, "alice")
	mentioned := insertRemoteActor(t, s, "bob", "remote.example")
	p := insertPost(t, s, author.ID, "https://example.com/posts/1", "hi @bob", MentionOnly)

	m := &Mention{PostID: p.ID, AccountID: mentioned.ID, MentionText: "@bob@remote.example"}
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertMention(context.Background(), tx, m) })
	require.NoError(t, err)

	ids, err := ListMentionedAccountIDs(context.Background(), s.DB, p.ID)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, mentioned.ID, ids[0])
}

func TestMention_DuplicateIsNoop(t *testing.T) {
	s := newTestStore(t)
	author := insertLocalActor(t, s, "alice")
	mentioned := insertRemoteActor(t, s, "bob", "remote.example")
	p := insertPost(t, s, author.ID, "https://example.com/posts/1", "hi @bob", MentionOnly)

	m := &Mention{PostID: p.ID, AccountID: mentioned.ID, MentionText: "@bob@remote.example"}
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertMention(context.Background(), tx, m) }))
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertMention(context.Background(), tx, m) }))

	ids, err := ListMentionedAccountIDs(context.Background(), s.DB, p.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestMention_ListMentionedInboxes_PrefersSharedInbox(t *testing.T) {
	s := newTestStore(t)
	author := insertLocalActor(t, s, "alice")
	mentioned := insertRemoteActor(t, s, "bob", "remote.example")
	p := insertPost(t, s, author.ID, "https://example.com/posts/1", "hi @bob", MentionOnly)

	m := &Mention{PostID: p.ID, AccountID: mentioned.ID, MentionText: "@bob@remote.example"}
	require.NoError(t, s.WithTx(context.Background(), func(tx *sql.Tx) error { return InsertMention(context.Background(), tx, m) }))

	inboxes, err := ListMentionedInboxes(context.Background(), s.DB, p.ID)
	require.NoError(t, err)
	require.Len(t, inboxes, 1)
	assert.Equal(t, "https://remote.example/inbox", inboxes[0])
}
