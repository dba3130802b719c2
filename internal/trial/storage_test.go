package trial

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/shared/testutil"
	"keygate/pkg/contracts/domain"
)

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "trial.json")
	logger, _ := testutil.NewTestLogger(t)
	st := NewFileStorage(path, logger)

	rec, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, rec, "a missing file means no trial")

	want := &domain.TrialRecord{
		TrialKey:          "TRIAL-7KQ2-9XWM",
		StartedAt:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt:         time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		DeviceFingerprint: testutil.FingerprintAlpha,
	}
	require.NoError(t, st.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0600), info.Mode().Perm())

	got, err := st.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.TrialKey, got.TrialKey)
	assert.Equal(t, want.DeviceFingerprint, got.DeviceFingerprint)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"started_at": "2025-06-01T12:00:00Z"`)
	assert.Contains(t, string(raw), `"expires_at": "2025-06-15T12:00:00Z"`)
}

func TestFileStorageCorruptRecordTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	logger, handler := testutil.NewTestLogger(t)
	st := NewFileStorage(path, logger)

	rec, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
	testutil.AssertLogContains(t, handler, slog.LevelWarn, "trial record unreadable")

	// The device is not wedged: a fresh record can be written over it.
	require.NoError(t, st.Save(&domain.TrialRecord{TrialKey: "TRIAL-AAAA-BBBB"}))
	got, err := st.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TRIAL-AAAA-BBBB", got.TrialKey)
}

func TestFileStorageClearIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.json")
	st := NewFileStorage(path, nil)

	require.NoError(t, st.Clear(), "clearing a missing record is a no-op")

	require.NoError(t, st.Save(&domain.TrialRecord{TrialKey: "TRIAL-AAAA-BBBB"}))
	require.NoError(t, st.Clear())
	require.NoError(t, st.Clear())

	rec, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}
