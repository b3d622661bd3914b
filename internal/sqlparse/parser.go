// Package sqlparse splits PostgreSQL migration scripts into independently
// executable statements. It understands dollar-quoted bodies, string literals
// and comments, and drops transaction-control statements because each
// statement is executed on its own.
package sqlparse

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// Statement is one executable statement together with where it started in the script
type Statement struct {
	SQL  string
	Line int // 1-based line of the first significant character
	Kind Kind
}

var (
	// dollarTagRE matches an opening or closing dollar-quote delimiter: $$ or $tag$
	dollarTagRE = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)?\$`)

	// transactionRE matches statements that only control transaction boundaries
	transactionRE = regexp.MustCompile(`(?i)^(BEGIN|COMMIT|ROLLBACK|START\s+TRANSACTION|END)\b`)
)

// Split returns the statements of script in order, without comments-only
// fragments or transaction control. It never fails; malformed input is
// flushed best-effort and left for the database to reject.
func Split(script string) []string {
	stmts := Parse(script)
	out := make([]string, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, s.SQL)
	}
	return out
}

// Parse is Split with line numbers and a statement classification attached
func Parse(script string) []Statement {
	s := &splitter{}
	lines := strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n")
	for i, line := range lines {
		s.line(i+1, line)
	}
	s.flush()
	return s.out
}

// IsTransactionControl reports whether stmt only begins or ends a transaction
func IsTransactionControl(stmt string) bool {
	return transactionRE.MatchString(strings.TrimSpace(StripLeadingComments(stmt)))
}

type splitter struct {
	buf       strings.Builder
	startLine int

	inDollar       bool
	dollarTag      string
	inString       bool
	inIdent        bool
	inBlockComment bool

	out []Statement
}

func (s *splitter) insideLiteral() bool {
	return s.inDollar || s.inString || s.inIdent || s.inBlockComment
}

func (s *splitter) line(lineNo int, line string) {
	if !s.insideLiteral() {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			return
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]

		switch {
		case s.inBlockComment:
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				s.buf.WriteString("*/")
				i++
				s.inBlockComment = false
				continue
			}

		case s.inDollar:
			if c == '$' {
				if tag, ok := matchDollarTag(line[i:]); ok && tag == s.dollarTag {
					s.buf.WriteString(line[i : i+len(tag)+2])
					i += len(tag) + 1
					s.inDollar = false
					s.dollarTag = ""
					continue
				}
			}

		case s.inString:
			// a backslash escapes whatever follows it, including another backslash
			if c == '\\' && i+1 < len(line) {
				s.buf.WriteString(line[i : i+2])
				i++
				continue
			}
			if c == '\'' {
				if i+1 < len(line) && line[i+1] == '\'' {
					s.buf.WriteString("''")
					i++
					continue
				}
				s.inString = false
			}

		case s.inIdent:
			if c == '"' {
				if i+1 < len(line) && line[i+1] == '"' {
					s.buf.WriteString(`""`)
					i++
					continue
				}
				s.inIdent = false
			}

		default:
			if s.buf.Len() == 0 {
				if c == ' ' || c == '\t' {
					continue
				}
				s.startLine = lineNo
			}
			switch {
			case c == '-' && i+1 < len(line) && line[i+1] == '-':
				s.buf.WriteString(line[i:])
				i = len(line)
				continue
			case c == '/' && i+1 < len(line) && line[i+1] == '*':
				s.buf.WriteString("/*")
				i++
				s.inBlockComment = true
				continue
			case c == '\'':
				s.inString = true
			case c == '"':
				s.inIdent = true
			case c == '$' && !followsIdentifier(line, i):
				if tag, ok := matchDollarTag(line[i:]); ok {
					s.buf.WriteString(line[i : i+len(tag)+2])
					i += len(tag) + 1
					s.inDollar = true
					s.dollarTag = tag
					continue
				}
			case c == ';':
				s.buf.WriteByte(';')
				s.flush()
				continue
			}
		}
		s.buf.WriteByte(c)
	}

	if s.buf.Len() > 0 {
		s.buf.WriteByte('\n')
	}
}

// flush emits the buffered statement if it carries anything executable
func (s *splitter) flush() {
	raw := s.buf.String()
	s.buf.Reset()

	body := StripLeadingComments(raw)
	lineNo := s.startLine + strings.Count(raw[:len(raw)-len(body)], "\n")

	stmt := strings.TrimSpace(body)
	if stmt == "" || stmt == ";" {
		return
	}
	if transactionRE.MatchString(stmt) {
		logger.Debugf("Skipping transaction control statement at line %d: %s", lineNo, firstLine(stmt))
		return
	}
	s.out = append(s.out, Statement{SQL: stmt, Line: lineNo, Kind: Classify(stmt)})
}

func matchDollarTag(s string) (string, bool) {
	m := dollarTagRE.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// followsIdentifier reports whether the byte before i belongs to an identifier,
// in which case a '$' is part of the name and not a quote delimiter.
func followsIdentifier(line string, i int) bool {
	if i == 0 {
		return false
	}
	return isIdentByte(line[i-1])
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// StripLeadingComments removes line and block comments (and the whitespace
// between them) from the start of stmt.
func StripLeadingComments(stmt string) string {
	s := strings.TrimLeftFunc(stmt, unicode.IsSpace)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = strings.TrimLeftFunc(s[nl+1:], unicode.IsSpace)
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return ""
			}
			s = strings.TrimLeftFunc(s[end+2:], unicode.IsSpace)
		default:
			return s
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
