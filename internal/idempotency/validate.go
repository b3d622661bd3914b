package idempotency

import (
	"fmt"
	"regexp"
	"strings"
)

// Report is the outcome of Validate. It is advisory; callers log the issues
// and carry on.
type Report struct {
	IsIdempotent bool     `json:"isIdempotent"`
	Issues       []string `json:"issues"`
}

var (
	createTableRE  = regexp.MustCompile(`(?i)\bCREATE\s+(?:(?:GLOBAL|LOCAL)\s+)?(?:(?:TEMP|TEMPORARY|UNLOGGED)\s+)?TABLE\b`)
	createIndexRE  = regexp.MustCompile(`(?i)\bCREATE\s+(?:UNIQUE\s+)?INDEX\b`)
	dropRE         = regexp.MustCompile(`(?i)\bDROP\s+(TABLE|INDEX)\b`)
	insertRE       = regexp.MustCompile(`(?i)\bINSERT\s+INTO\b`)
	ifNotExistsRE  = regexp.MustCompile(`(?i)\bIF\s+NOT\s+EXISTS\b`)
	ifExistsRE     = regexp.MustCompile(`(?i)\bIF\s+EXISTS\b`)
	notExistsRE    = regexp.MustCompile(`(?i)\bWHERE\s+NOT\s+EXISTS\b`)
	onConflictRE   = regexp.MustCompile(`(?i)\bON\s+CONFLICT\b`)
	dollarQuoteRE  = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)?\$`)
	lineCommentRE  = regexp.MustCompile(`--.*$`)
	blockCommentRE = regexp.MustCompile(`/\*.*?\*/`)
)

// Validate scans sql line by line for DDL without existence guards, and the
// whole script for inserts without a WHERE NOT EXISTS (or ON CONFLICT) guard.
// Lines that start inside a dollar-quoted body are not checked.
func Validate(sql string) Report {
	var issues []string
	firstInsert := 0

	inBody := false
	tag := ""
	for i, raw := range strings.Split(sql, "\n") {
		lineNo := i + 1
		startsInBody := inBody

		for _, m := range dollarQuoteRE.FindAllStringSubmatch(raw, -1) {
			switch {
			case !inBody:
				inBody, tag = true, m[1]
			case m[1] == tag:
				inBody, tag = false, ""
			}
		}
		if startsInBody {
			continue
		}

		line := lineCommentRE.ReplaceAllString(blockCommentRE.ReplaceAllString(raw, ""), "")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if createTableRE.MatchString(line) && !ifNotExistsRE.MatchString(line) {
			issues = append(issues, fmt.Sprintf("Line %d: CREATE TABLE without IF NOT EXISTS", lineNo))
		}
		if createIndexRE.MatchString(line) && !ifNotExistsRE.MatchString(line) {
			issues = append(issues, fmt.Sprintf("Line %d: CREATE INDEX without IF NOT EXISTS", lineNo))
		}
		if m := dropRE.FindStringSubmatch(line); m != nil && !ifExistsRE.MatchString(line) {
			issues = append(issues, fmt.Sprintf("Line %d: DROP %s without IF EXISTS", lineNo, strings.ToUpper(m[1])))
		}
		if firstInsert == 0 && insertRE.MatchString(line) {
			firstInsert = lineNo
		}
	}

	if firstInsert > 0 && !notExistsRE.MatchString(sql) && !onConflictRE.MatchString(sql) {
		issues = append(issues, fmt.Sprintf("Line %d: INSERT INTO without WHERE NOT EXISTS guard", firstInsert))
	}

	return Report{IsIdempotent: len(issues) == 0, Issues: issues}
}
