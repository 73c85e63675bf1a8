package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteLedger(t *testing.T) (*Ledger, *SQLiteStore) {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	l, err := Open(st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, st
}

func TestSQLiteStore_AppendAndVerify(t *testing.T) {
	l, _ := newSQLiteLedger(t)
	assert.True(t, l.Verify().OK)

	prev := GenesisHash
	for i := 0; i < 5; i++ {
		e, err := l.Append(incident(i))
		require.NoError(t, err)
		assert.Equal(t, prev, e.PreviousHash)
		prev = e.EntryHash
	}
	r := l.Verify()
	assert.True(t, r.OK, r.Reason)
	assert.Equal(t, 5, r.Entries)
}

func TestSQLiteStore_RoundTripsEntries(t *testing.T) {
	l, st := newSQLiteLedger(t)
	want, err := l.Append(incident(3))
	require.NoError(t, err)

	got, err := st.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want.EntryHash, got[0].EntryHash)
	assert.Equal(t, want.Payload.EpisodeID, got[0].Payload.EpisodeID)
	assert.True(t, want.Timestamp.Equal(got[0].Timestamp))
}

func TestSQLiteStore_DetectsTamper(t *testing.T) {
	l, st := newSQLiteLedger(t)
	for i := 0; i < 3; i++ {
		_, err := l.Append(incident(i))
		require.NoError(t, err)
	}
	_, err := st.db.Exec(`UPDATE ledger_entries SET payload = json_set(payload, '$.anomaly_score', 0.2) WHERE idx = 1`)
	require.NoError(t, err)

	r := l.Verify()
	assert.False(t, r.OK)
	assert.Equal(t, int64(1), r.FailedIndex)
}

func TestSQLiteStore_RejectsDuplicateIndex(t *testing.T) {
	l, st := newSQLiteLedger(t)
	e, err := l.Append(incident(0))
	require.NoError(t, err)
	assert.Error(t, st.Append(e))
}

func TestSQLiteStore_MalformedPayloadFailsClosed(t *testing.T) {
	l, st := newSQLiteLedger(t)
	_, err := l.Append(incident(0))
	require.NoError(t, err)
	_, err = st.db.Exec(`UPDATE ledger_entries SET payload = '{broken' WHERE idx = 0`)
	require.NoError(t, err)

	assert.False(t, l.Verify().OK)
}
