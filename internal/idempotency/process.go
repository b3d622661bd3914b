// Package idempotency rewrites generated migration SQL so that running the
// same script twice is harmless, and reports statements that are not.
package idempotency

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/muir/sqltoken"
)

// HeaderMarker is the line that identifies an already processed script
const HeaderMarker = "-- This migration is idempotent and safe to run multiple times"

var (
	// txCommentRE matches comments that only mark a transaction boundary
	txCommentRE = regexp.MustCompile(`(?i)^(?:--|/\*)\s*(?:begin|start|end|commit|rollback)\b[\s;]*(?:transaction\b.*?)?(?:\*/)?\s*$`)

	createTableForms = map[string]bool{
		"CREATE TABLE":                  true,
		"CREATE TEMP TABLE":             true,
		"CREATE TEMPORARY TABLE":        true,
		"CREATE UNLOGGED TABLE":         true,
		"CREATE GLOBAL TEMP TABLE":      true,
		"CREATE GLOBAL TEMPORARY TABLE": true,
		"CREATE LOCAL TEMP TABLE":       true,
		"CREATE LOCAL TEMPORARY TABLE":  true,
	}
	createIndexForms = map[string]bool{
		"CREATE INDEX":                     true,
		"CREATE UNIQUE INDEX":              true,
		"CREATE INDEX CONCURRENTLY":        true,
		"CREATE UNIQUE INDEX CONCURRENTLY": true,
	}
	dropForms = map[string]bool{
		"DROP TABLE":              true,
		"DROP INDEX":              true,
		"DROP INDEX CONCURRENTLY": true,
	}
)

// Processor applies the idempotency rewrites. Now supplies the header timestamp.
type Processor struct {
	Now func() time.Time
}

// NewProcessor returns a Processor stamping headers with the wall clock
func NewProcessor() *Processor {
	return &Processor{Now: time.Now}
}

var defaultProcessor = NewProcessor()

// Process rewrites sql with the default Processor
func Process(sql, name string) string {
	return defaultProcessor.Process(sql, name)
}

// Process guards CREATE TABLE/INDEX with IF NOT EXISTS and DROP TABLE/INDEX
// with IF EXISTS, removes transaction control, collapses runs of blank lines
// and prepends the standard header. Keywords inside string literals, dollar
// bodies, quoted identifiers and comments are never touched. Processing an
// already processed script returns it unchanged.
func (p *Processor) Process(sql, name string) string {
	var parts []piece
	for _, stmt := range splitTokens(sqltoken.TokenizePostgreSQL(sql)) {
		parts = append(parts, rewriteStatement(stmt)...)
	}

	body := strings.TrimSpace(joinPieces(parts))
	if strings.Contains(body, HeaderMarker) {
		return body + "\n"
	}
	return p.header(name) + body + "\n"
}

func (p *Processor) header(name string) string {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	var b strings.Builder
	fmt.Fprintf(&b, "-- Migration: %s\n", strings.ReplaceAll(name, "\n", " "))
	fmt.Fprintf(&b, "-- Generated: %s\n", now().UTC().Format(time.RFC3339))
	b.WriteString(HeaderMarker + "\n\n")
	return b.String()
}

// piece is a chunk of output text; whitespace pieces are merged and collapsed
type piece struct {
	text       string
	whitespace bool
}

// splitTokens groups tokens into statements, each ending with its ';'
func splitTokens(toks sqltoken.Tokens) [][]sqltoken.Token {
	var (
		out [][]sqltoken.Token
		cur []sqltoken.Token
	)
	for _, tok := range toks {
		cur = append(cur, tok)
		if tok.Text == ";" {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func significant(tok sqltoken.Token) bool {
	return tok.Type != sqltoken.Whitespace && tok.Type != sqltoken.Comment
}

func rewriteStatement(toks []sqltoken.Token) []piece {
	var words []string
	for _, tok := range toks {
		if significant(tok) {
			words = append(words, strings.ToUpper(tok.Text))
		}
	}

	if isTransactionControl(words) {
		// keep whatever leads the statement, drop the statement itself
		var out []piece
		for _, tok := range toks {
			if significant(tok) {
				break
			}
			if p, ok := keep(tok); ok {
				out = append(out, p)
			}
		}
		return out
	}

	out := make([]piece, 0, len(toks)+1)
	lastKeyword := -1
	k := 0
	for _, tok := range toks {
		if significant(tok) {
			if guard := guardFor(words[:k], words[k]); guard != "" && lastKeyword >= 0 {
				out = append(out[:lastKeyword+1], append([]piece{{text: " " + guard}}, out[lastKeyword+1:]...)...)
			}
			k++
			out = append(out, piece{text: tok.Text})
			lastKeyword = len(out) - 1
			continue
		}
		if p, ok := keep(tok); ok {
			out = append(out, p)
		}
	}
	return out
}

// keep filters non-significant tokens, dropping transaction boundary comments.
// Consecutive line comments arrive as one token, so lines are checked one by one.
func keep(tok sqltoken.Token) (piece, bool) {
	if tok.Type != sqltoken.Comment {
		return piece{text: tok.Text, whitespace: true}, true
	}
	lines := strings.Split(tok.Text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !txCommentRE.MatchString(strings.TrimSpace(line)) {
			kept = append(kept, line)
		}
	}
	text := strings.Join(kept, "\n")
	if strings.TrimSpace(text) == "" {
		return piece{}, false
	}
	return piece{text: text}, true
}

func isTransactionControl(words []string) bool {
	if len(words) == 0 {
		return false
	}
	switch words[0] {
	case "BEGIN", "COMMIT", "ROLLBACK", "END", "ABORT":
		return true
	case "START":
		return len(words) > 1 && words[1] == "TRANSACTION"
	}
	return false
}

// guardFor returns the existence guard to place after prefix when the next
// word is next, or "" when the statement is not guardable or already guarded.
func guardFor(prefix []string, next string) string {
	if len(prefix) < 2 || len(prefix) > 4 || next == "IF" {
		return ""
	}
	form := strings.Join(prefix, " ")
	switch {
	case createTableForms[form]:
		return "IF NOT EXISTS"
	case createIndexForms[form]:
		if next == "ON" || next == "CONCURRENTLY" {
			return ""
		}
		return "IF NOT EXISTS"
	case dropForms[form]:
		if next == "CONCURRENTLY" {
			return ""
		}
		return "IF EXISTS"
	}
	return ""
}

// joinPieces merges adjacent whitespace and collapses three or more blank
// lines into one, keeping the indentation of the line that follows
func joinPieces(parts []piece) string {
	var (
		b  strings.Builder
		ws strings.Builder
	)
	flushWS := func() {
		s := ws.String()
		ws.Reset()
		if strings.Count(s, "\n") >= 4 {
			s = "\n\n" + s[strings.LastIndexByte(s, '\n')+1:]
		}
		b.WriteString(s)
	}
	for _, p := range parts {
		if p.whitespace {
			ws.WriteString(p.text)
			continue
		}
		flushWS()
		b.WriteString(p.text)
	}
	flushWS()
	return b.String()
}
