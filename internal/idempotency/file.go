package idempotency

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const backupSuffix = ".bak"

// FileResult describes an in-place rewrite
type FileResult struct {
	Path       string
	BackupPath string
	Changed    bool
	Report     Report
}

// ProcessFile rewrites the migration at path in place. The original is first
// copied to <path>.<timestamp>.bak; unchanged files get no backup.
func (p *Processor) ProcessFile(path string) (*FileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migration: %w", err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration: %w", err)
	}

	processed := p.Process(string(original), filepath.Base(path))
	result := &FileResult{Path: path, Report: Validate(processed)}
	if processed == string(original) {
		return result, nil
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	backup := fmt.Sprintf("%s.%s%s", path, now().UTC().Format("20060102T150405"), backupSuffix)
	if err := os.WriteFile(backup, original, info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.WriteFile(path, []byte(processed), info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("failed to rewrite migration (original kept at %s): %w", backup, err)
	}

	result.BackupPath = backup
	result.Changed = true
	return result, nil
}

// ProcessFile rewrites path with the default Processor
func ProcessFile(path string) (*FileResult, error) {
	return defaultProcessor.ProcessFile(path)
}

// CleanupBackups removes backups in dir older than maxAge and returns the
// removed paths. Removal errors are skipped.
func CleanupBackups(dir string, maxAge time.Duration, now time.Time) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.sql.*"+backupSuffix))
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(m); err == nil {
			removed = append(removed, m)
		}
	}
	return removed, nil
}
