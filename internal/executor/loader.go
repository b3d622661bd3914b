package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// DefaultMigrationDirs are checked in order when no directories are configured
var DefaultMigrationDirs = []string{
	"supabase/migrations",
	"migrations",
	"database/migrations",
	"db/migrations",
}

// timestampPrefix matches the leading <timestamp>_ of a migration filename
var timestampPrefix = regexp.MustCompile(`^(\d+)_`)

// MigrationFile is a migration discovered on disk
type MigrationFile struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	Timestamp   string `json:"timestamp,omitempty"`
	Description string `json:"description"`
}

// NewMigrationFile derives the file metadata from its path
func NewMigrationFile(path string) MigrationFile {
	filename := filepath.Base(path)
	timestamp, description := splitFilename(filename)
	return MigrationFile{
		Filename:    filename,
		Path:        path,
		Timestamp:   timestamp,
		Description: description,
	}
}

// Checksum is derived from the filename, not the contents
func (m MigrationFile) Checksum() string {
	sum := sha256.Sum256([]byte(m.Filename))
	return hex.EncodeToString(sum[:])
}

func splitFilename(filename string) (timestamp, description string) {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	if match := timestampPrefix.FindStringSubmatch(name); match != nil {
		timestamp = match[1]
		name = name[len(match[0]):]
	}
	return timestamp, strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
}

// Loader discovers migration files across candidate directories
type Loader struct {
	root string
	dirs []string
}

// NewLoader creates a loader. Relative directories are resolved against root.
func NewLoader(root string, dirs []string) *Loader {
	if len(dirs) == 0 {
		dirs = DefaultMigrationDirs
	}
	return &Loader{root: root, dirs: dirs}
}

// Dirs returns the candidate directories in search order
func (l *Loader) Dirs() []string {
	resolved := make([]string, 0, len(l.dirs))
	for _, dir := range l.dirs {
		if !filepath.IsAbs(dir) && l.root != "" {
			dir = filepath.Join(l.root, dir)
		}
		resolved = append(resolved, dir)
	}
	return resolved
}

// PrimaryDir returns the first existing candidate directory, or the first
// candidate when none exist yet
func (l *Loader) PrimaryDir() string {
	dirs := l.Dirs()
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return dirs[0]
}

// Discover lists .sql files from every candidate directory sorted by filename.
// When the same filename appears in several directories the first directory wins.
func (l *Loader) Discover() ([]MigrationFile, error) {
	seen := make(map[string]bool)
	var files []MigrationFile

	for _, dir := range l.Dirs() {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read migrations directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
				continue
			}
			if seen[entry.Name()] {
				logger.Debugf("Ignoring %s in %s: already found in an earlier directory", entry.Name(), dir)
				continue
			}
			seen[entry.Name()] = true
			files = append(files, NewMigrationFile(filepath.Join(dir, entry.Name())))
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}

// Resolve turns a filename or path into a migration file. Existing paths are
// used as given; bare filenames are searched in the candidate directories.
func (l *Loader) Resolve(name string) (MigrationFile, error) {
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return NewMigrationFile(name), nil
	}
	return l.Find(name)
}

// Find looks up the base name of name in the candidate directories only
func (l *Loader) Find(name string) (MigrationFile, error) {
	for _, dir := range l.Dirs() {
		path := filepath.Join(dir, filepath.Base(name))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return NewMigrationFile(path), nil
		}
	}
	return MigrationFile{}, fmt.Errorf("%w: %s", ErrMigrationNotFound, name)
}

// NewFilename builds <timestamp>_<description>.sql for a new migration
func NewFilename(now time.Time, description string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(description), "_"), "_")
	return fmt.Sprintf("%s_%s.sql", now.UTC().Format("20060102150405"), slug)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)
