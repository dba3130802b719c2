package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaths(t *testing.T) {
	t.Run("basic path resolution", func(t *testing.T) {
		paths, err := GetPaths()
		require.NoError(t, err)
		require.NotNil(t, paths)

		assert.True(t, filepath.IsAbs(paths.ExecutableDir), "ExecutableDir should be absolute")
		assert.True(t, filepath.IsAbs(paths.DataDir), "DataDir should be absolute")
		assert.True(t, filepath.IsAbs(paths.LogsDir), "LogsDir should be absolute")
		assert.True(t, filepath.IsAbs(paths.LicenseStateFile), "LicenseStateFile should be absolute")
		assert.True(t, filepath.IsAbs(paths.TrialFile), "TrialFile should be absolute")

		assert.Equal(t, filepath.Join(paths.ExecutableDir, DefaultDataDir), paths.DataDir)
		assert.Equal(t, filepath.Join(paths.ExecutableDir, DefaultLogsDir), paths.LogsDir)
		assert.Equal(t, filepath.Join(paths.ExecutableDir, LicenseStateFileName), paths.LicenseStateFile)
		assert.Equal(t, filepath.Join(paths.ExecutableDir, TrialFileName), paths.TrialFile)
		assert.Equal(t, filepath.Join(paths.DataDir, AuditLogFileName), paths.AuditLogFile)
	})

	t.Run("consistent calls return same paths", func(t *testing.T) {
		paths1, err1 := GetPaths()
		require.NoError(t, err1)

		paths2, err2 := GetPaths()
		require.NoError(t, err2)

		assert.Equal(t, paths1.ExecutableDir, paths2.ExecutableDir)
		assert.Equal(t, paths1.LicenseStateFile, paths2.LicenseStateFile)
		assert.Equal(t, paths1.TrialFile, paths2.TrialFile)
	})
}

func TestEnsureDirectories(t *testing.T) {
	tempDir := t.TempDir()

	paths := &Paths{
		ExecutableDir:    tempDir,
		DataDir:          filepath.Join(tempDir, "data"),
		LogsDir:          filepath.Join(tempDir, "logs"),
		LicenseStateFile: filepath.Join(tempDir, "license.dat"),
		TrialFile:        filepath.Join(tempDir, "trial.json"),
		AuditLogFile:     filepath.Join(tempDir, "data", "audit.jsonl"),
	}

	t.Run("creates all directories", func(t *testing.T) {
		err := paths.EnsureDirectories()
		require.NoError(t, err)

		assert.DirExists(t, paths.DataDir)
		assert.DirExists(t, paths.LogsDir)
	})

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, paths.EnsureDirectories())
		require.NoError(t, paths.EnsureDirectories())
	})
}

func TestGetRelativePath(t *testing.T) {
	paths := &Paths{ExecutableDir: filepath.Join(string(filepath.Separator), "opt", "keygate")}

	assert.Equal(t,
		filepath.Join(paths.ExecutableDir, "backup", "licenses.sql"),
		paths.GetRelativePath(filepath.Join("backup", "licenses.sql")))
}

func TestGetLogPath(t *testing.T) {
	paths := &Paths{LogsDir: filepath.Join(string(filepath.Separator), "var", "log", "keygate")}

	assert.Equal(t, filepath.Join(paths.LogsDir, "keygate.log"), paths.GetLogPath("keygate.log"))
}

func TestFileExists(t *testing.T) {
	tempDir := t.TempDir()

	existing := filepath.Join(tempDir, "present.txt")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))

	assert.True(t, FileExists(existing))
	assert.False(t, FileExists(filepath.Join(tempDir, "absent.txt")))
}

func TestStatePathHelpers(t *testing.T) {
	statePath, err := GetLicenseStatePath()
	require.NoError(t, err)
	assert.Equal(t, LicenseStateFileName, filepath.Base(statePath))

	trialPath, err := GetTrialPath()
	require.NoError(t, err)
	assert.Equal(t, TrialFileName, filepath.Base(trialPath))
}
