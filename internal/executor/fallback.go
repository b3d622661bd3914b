package executor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
)

// StatementFailure records why one statement could not be applied
type StatementFailure struct {
	Index     int    `json:"index"`
	Statement string `json:"statement"`
	Error     string `json:"error"`
}

// writeFallback writes a script the operator can run by hand in the database
// SQL editor. Files are uniquely named so repeated failures never overwrite
// earlier scripts.
func (e *Executor) writeFallback(file MigrationFile, statements []string, failures []StatementFailure, reason string) (string, error) {
	dir := e.opts.FallbackDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(file.Path), "manual")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create fallback directory: %w", err)
	}

	now := e.now()
	content := renderFallback(file, statements, failures, reason, e.opts.TrackingTable, now)

	base := strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	stamp := now.UTC().Format("20060102T150405")
	for attempt := 0; attempt < 100; attempt++ {
		name := fmt.Sprintf("%s_manual_%s.sql", base, stamp)
		if attempt > 0 {
			name = fmt.Sprintf("%s_manual_%s_%d.sql", base, stamp, attempt)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create fallback script: %w", err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write fallback script: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write fallback script: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("failed to create fallback script for %s: too many existing files", file.Filename)
}

func renderFallback(file MigrationFile, statements []string, failures []StatementFailure, reason, table string, now time.Time) string {
	if table == "" {
		table = "migrations"
	}
	failed := make(map[int]string, len(failures))
	for _, f := range failures {
		failed[f.Index] = f.Error
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- Manual migration: %s\n", file.Filename)
	fmt.Fprintf(&b, "-- Generated: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "-- Reason: %s\n", oneLine(reason))
	b.WriteString("--\n")
	b.WriteString("-- Instructions:\n")
	b.WriteString("--   1. Open the SQL editor for the target database.\n")
	b.WriteString("--   2. Review the statements below. They are guarded and safe to run more than once.\n")
	b.WriteString("--   3. Run the whole script, then mark the migration as executed:\n")
	fmt.Fprintf(&b, "--      INSERT INTO %s (filename, description, checksum) VALUES (%s, %s, %s) ON CONFLICT (filename) DO NOTHING;\n",
		pq.QuoteIdentifier(table), pq.QuoteLiteral(file.Filename), pq.QuoteLiteral(file.Description), pq.QuoteLiteral(file.Checksum()))

	if len(failures) > 0 {
		b.WriteString("--\n")
		b.WriteString("-- Failures:\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "--   statement %d: %s\n", f.Index+1, oneLine(f.Error))
		}
	}
	b.WriteString("\n")

	for i, stmt := range statements {
		if msg, ok := failed[i]; ok {
			fmt.Fprintf(&b, "-- Statement %d (failed: %s)\n", i+1, oneLine(msg))
		} else {
			fmt.Fprintf(&b, "-- Statement %d\n", i+1)
		}
		b.WriteString(strings.TrimSpace(stmt))
		if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
			b.WriteString(";")
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
