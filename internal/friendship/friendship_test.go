package friendship

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/cbuddy/internal/store"
)

type mapKV struct {
	m       map[string]string
	failSet bool
}

func (kv *mapKV) Get(key string) (string, bool, error) {
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *mapKV) Set(key, value string) error {
	if kv.failSet {
		return errors.New("disk full")
	}
	kv.m[key] = value
	return nil
}

func TestRecordClampsToMax(t *testing.T) {
	kv := &mapKV{m: map[string]string{Key: "97"}}
	tr, err := Load(kv, Points{Prompt: 1, Reply: 2})
	require.NoError(t, err)
	require.Equal(t, 97, tr.Level())

	lvl, err := tr.Record(EventReply)
	require.NoError(t, err)
	assert.Equal(t, 99, lvl)

	lvl, err = tr.Record(EventReply)
	require.NoError(t, err)
	assert.Equal(t, Max, lvl)
	assert.Equal(t, "100", kv.m[Key])

	lvl, err = tr.Record(EventPrompt)
	require.NoError(t, err)
	assert.Equal(t, Max, lvl)
}

func TestRecordNegativePointsClampToZero(t *testing.T) {
	tr, err := Load(&mapKV{m: map[string]string{}}, Points{Prompt: -5})
	require.NoError(t, err)

	lvl, err := tr.Record(EventPrompt)
	require.NoError(t, err)
	assert.Zero(t, lvl)
}

func TestLoadStoredValue(t *testing.T) {
	tests := map[string]int{"abc": 0, "-4": 0, "42": 42, "250": Max}
	for stored, want := range tests {
		tr, err := Load(&mapKV{m: map[string]string{Key: stored}}, Points{})
		require.NoError(t, err)
		assert.Equal(t, want, tr.Level(), "stored %q", stored)
	}
}

func TestRecordWriteFailureKeepsLevel(t *testing.T) {
	kv := &mapKV{m: map[string]string{Key: "10"}, failSet: true}
	tr, err := Load(kv, Points{Reply: 2})
	require.NoError(t, err)

	lvl, err := tr.Record(EventReply)
	require.Error(t, err)
	assert.Equal(t, 10, lvl)
	assert.Equal(t, 10, tr.Level())
}

func TestRecordUnknownEvent(t *testing.T) {
	tr, err := Load(&mapKV{m: map[string]string{}}, Points{Prompt: 1})
	require.NoError(t, err)
	_, err = tr.Record("wave")
	require.Error(t, err)
}

func TestPersistsThroughStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := store.Open(path)
	require.NoError(t, err)

	tr, err := Load(db, Points{Prompt: 1, Reply: 2})
	require.NoError(t, err)
	_, err = tr.Record(EventPrompt)
	require.NoError(t, err)
	_, err = tr.Record(EventReply)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = store.Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	tr, err = Load(db, Points{})
	require.NoError(t, err)
	assert.Equal(t, 3, tr.Level())
}

func TestTier(t *testing.T) {
	tests := []struct {
		level int
		want  string
	}{
		{0, "stranger"},
		{19, "stranger"},
		{20, "acquaintance"},
		{50, "friend"},
		{80, "best friend"},
		{100, "best friend"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tier(tt.level), "level %d", tt.level)
	}
}
