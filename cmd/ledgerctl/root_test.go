package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/ledger"
)

func writeLedger(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	store, err := ledger.NewFileStore(path)
	require.NoError(t, err)
	l, err := ledger.Open(store, nil)
	require.NoError(t, err)
	defer l.Close()
	for i := 0; i < n; i++ {
		_, err := l.Append(domain.Incident{
			EpisodeID:    "ep-" + string(rune('a'+i)),
			Reading:      domain.Reading{Timestamp: time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC), Voltage: 229, Current: 19, Power: 4100, PowerFactor: 0.9},
			AnomalyScore: 0.9,
		})
		require.NoError(t, err)
	}
	return path
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVerify_OK(t *testing.T) {
	path := writeLedger(t, 3)
	out, err := execute("verify", "--ledger", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 3 entries verified")
}

func TestVerify_Tampered(t *testing.T) {
	path := writeLedger(t, 3)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Replace(raw, []byte(`"anomaly_score":0.9`), []byte(`"anomaly_score":0.1`), 1), 0o644))

	out, err := execute("verify", "--ledger", path)
	assert.True(t, errors.Is(err, domain.ErrCorruptLedger))
	assert.Contains(t, out, "CORRUPT at index 0")
}

func TestVerify_MissingFileIsEmpty(t *testing.T) {
	out, err := execute("verify", "--ledger", filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 0 entries")
}

func TestList_Limit(t *testing.T) {
	path := writeLedger(t, 3)
	out, err := execute("list", "--ledger", path, "--limit", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "ep-b")
	assert.Contains(t, lines[2], domain.CauseNotAvailable)
}

func TestShow(t *testing.T) {
	path := writeLedger(t, 2)
	out, err := execute("show", "1", "--ledger", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"episode_id": "ep-b"`)

	_, err = execute("show", "5", "--ledger", path)
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	_, err := execute("verify", "--backend", "s3")
	assert.Error(t, err)
}

func TestDataset_Stdout(t *testing.T) {
	out, err := execute("dataset")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Voltage,Current,Power,Power_Factor,Label\n"))
}

func TestFeedback_MissingLog(t *testing.T) {
	out, err := execute("feedback", "--path", filepath.Join(t.TempDir(), "none.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, "0 samples")
}
