package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestKV(t *testing.T) {
	db := openTest(t)

	_, ok, err := db.Get("friendship.points")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Set("friendship.points", "3"))
	require.NoError(t, db.Set("friendship.points", "4"))

	v, ok, err := db.Get("friendship.points")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4", v)

	require.NoError(t, db.Delete("friendship.points"))
	require.NoError(t, db.Delete("friendship.points"))
	_, ok, err = db.Get("friendship.points")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveReplyIgnoresDuplicates(t *testing.T) {
	db := openTest(t)
	r := Reply{Fingerprint: "s1|t|fix", SessionID: "s1", Prompt: "fix", Text: "Fixed!", SourceEntryID: "a1"}

	inserted, err := db.SaveReply(r)
	require.NoError(t, err)
	assert.True(t, inserted)

	r.Text = "changed"
	inserted, err = db.SaveReply(r)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := db.RecentReplies(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Fixed!", got[0].Text)
	assert.False(t, got[0].ResolvedAt.IsZero())
}

func TestRecentRepliesNewestFirst(t *testing.T) {
	db := openTest(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i, fp := range []string{"a", "b", "c"} {
		_, err := db.SaveReply(Reply{
			Fingerprint:   fp,
			SessionID:     "s1",
			Prompt:        "p" + fp,
			Text:          "r" + fp,
			SourceEntryID: "e" + fp,
			ResolvedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	got, err := db.RecentReplies(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Fingerprint)
	assert.Equal(t, "b", got[1].Fingerprint)
	assert.Equal(t, base.Add(2*time.Minute), got[0].ResolvedAt)

	n, err := db.ReplyCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Set("k", "v"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	v, ok, err := db.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
