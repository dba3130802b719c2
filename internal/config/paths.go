package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the application paths.
// This is the single source of truth for file locations on both the
// server (logs, audit trail) and the client (local license state, trial
// record). All paths are resolved relative to the executable directory,
// never the current working directory.
type Paths struct {
	ExecutableDir string
	DataDir       string
	LogsDir       string

	// Client-local state files
	LicenseStateFile string
	TrialFile        string

	// Server-side audit trail
	AuditLogFile string
}

// GetPaths returns the application paths relative to the executable location
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the actual executable location
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	exeDir := filepath.Dir(exe)
	dataDir := filepath.Join(exeDir, DefaultDataDir)

	paths := &Paths{
		ExecutableDir:    exeDir,
		DataDir:          dataDir,
		LogsDir:          filepath.Join(exeDir, DefaultLogsDir),
		LicenseStateFile: filepath.Join(exeDir, LicenseStateFileName),
		TrialFile:        filepath.Join(exeDir, TrialFileName),
		AuditLogFile:     filepath.Join(dataDir, AuditLogFileName),
	}

	return paths, nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	directories := []string{
		p.DataDir,
		p.LogsDir,
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// GetRelativePath returns a path relative to the executable directory
func (p *Paths) GetRelativePath(subpath string) string {
	return filepath.Join(p.ExecutableDir, subpath)
}

// GetLogPath returns the path for a log file
func (p *Paths) GetLogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetLicenseStatePath returns the client license state file path
func GetLicenseStatePath() (string, error) {
	paths, err := GetPaths()
	if err != nil {
		return "", fmt.Errorf("failed to get paths: %w", err)
	}
	return paths.LicenseStateFile, nil
}

// GetTrialPath returns the client trial record file path
func GetTrialPath() (string, error) {
	paths, err := GetPaths()
	if err != nil {
		return "", fmt.Errorf("failed to get paths: %w", err)
	}
	return paths.TrialFile, nil
}

// LogPathResolution logs the resolved paths for debugging
func (p *Paths) LogPathResolution() {
	logger := slog.Default()
	if logger == nil {
		return
	}

	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("executable", p.ExecutableDir),
			slog.String("data", p.DataDir),
			slog.String("logs", p.LogsDir),
		),
		slog.Group("state_files",
			slog.String("license_state", p.LicenseStateFile),
			slog.String("trial", p.TrialFile),
			slog.String("audit_log", p.AuditLogFile),
		))
}
