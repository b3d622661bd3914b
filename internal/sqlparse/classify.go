package sqlparse

import (
	"regexp"
	"strings"
)

// Kind classifies a statement by its leading keywords
type Kind int

const (
	KindOther Kind = iota
	KindCreateTable
	KindCreateIndex
	KindCreatePolicy
	KindCreateTrigger
	KindCreateFunction
	KindCreateExtension
	KindAlterTable
	KindDropTable
	KindDropIndex
	KindInsert
	KindDo
	KindComment
	KindGrant
)

var kindNames = map[Kind]string{
	KindOther:           "other",
	KindCreateTable:     "create_table",
	KindCreateIndex:     "create_index",
	KindCreatePolicy:    "create_policy",
	KindCreateTrigger:   "create_trigger",
	KindCreateFunction:  "create_function",
	KindCreateExtension: "create_extension",
	KindAlterTable:      "alter_table",
	KindDropTable:       "drop_table",
	KindDropIndex:       "drop_index",
	KindInsert:          "insert",
	KindDo:              "do",
	KindComment:         "comment",
	KindGrant:           "grant",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "other"
}

// MarshalText renders the kind by name in JSON output
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ident matches a possibly schema-qualified, possibly quoted identifier
const ident = `((?:"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*)(?:\.(?:"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*))?)`

var kindPatterns = []struct {
	kind Kind
	re   *regexp.Regexp
}{
	{KindCreateTable, regexp.MustCompile(`(?i)^CREATE\s+(?:(?:GLOBAL|LOCAL)\s+)?(?:(?:TEMP|TEMPORARY|UNLOGGED)\s+)?TABLE\b`)},
	{KindCreateIndex, regexp.MustCompile(`(?i)^CREATE\s+(?:UNIQUE\s+)?INDEX\b`)},
	{KindCreatePolicy, regexp.MustCompile(`(?i)^CREATE\s+POLICY\b`)},
	{KindCreateTrigger, regexp.MustCompile(`(?i)^CREATE\s+(?:OR\s+REPLACE\s+)?(?:CONSTRAINT\s+)?TRIGGER\b`)},
	{KindCreateFunction, regexp.MustCompile(`(?i)^CREATE\s+(?:OR\s+REPLACE\s+)?(?:FUNCTION|PROCEDURE)\b`)},
	{KindCreateExtension, regexp.MustCompile(`(?i)^CREATE\s+EXTENSION\b`)},
	{KindAlterTable, regexp.MustCompile(`(?i)^ALTER\s+TABLE\b`)},
	{KindDropTable, regexp.MustCompile(`(?i)^DROP\s+TABLE\b`)},
	{KindDropIndex, regexp.MustCompile(`(?i)^DROP\s+INDEX\b`)},
	{KindInsert, regexp.MustCompile(`(?i)^INSERT\s+INTO\b`)},
	{KindDo, regexp.MustCompile(`(?i)^DO\b`)},
	{KindComment, regexp.MustCompile(`(?i)^COMMENT\s+ON\b`)},
	{KindGrant, regexp.MustCompile(`(?i)^(?:GRANT|REVOKE)\b`)},
}

// Classify returns the kind of stmt, ignoring leading comments
func Classify(stmt string) Kind {
	s := StripLeadingComments(stmt)
	for _, p := range kindPatterns {
		if p.re.MatchString(s) {
			return p.kind
		}
	}
	return KindOther
}

// Object names the schema object a statement creates, alters or drops
type Object struct {
	Kind  Kind
	Name  string // as written, possibly qualified and quoted
	Table string // ON <table> for indexes, policies and triggers; target for ALTER TABLE
	Args  string // function argument list without the parentheses
}

var (
	createTableNameRE = regexp.MustCompile(`(?is)^CREATE\s+(?:(?:GLOBAL|LOCAL)\s+)?(?:(?:TEMP|TEMPORARY|UNLOGGED)\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` + ident)
	createIndexNameRE = regexp.MustCompile(`(?is)^CREATE\s+(?:UNIQUE\s+)?INDEX\s+(?:CONCURRENTLY\s+)?(?:IF\s+NOT\s+EXISTS\s+)?` + ident + `\s+ON\s+(?:ONLY\s+)?` + ident)
	createPolicyRE    = regexp.MustCompile(`(?is)^CREATE\s+POLICY\s+` + ident + `\s+ON\s+` + ident)
	createTriggerRE   = regexp.MustCompile(`(?is)^CREATE\s+(?:OR\s+REPLACE\s+)?(?:CONSTRAINT\s+)?TRIGGER\s+` + ident + `\s.*?\bON\s+` + ident)
	createFunctionRE  = regexp.MustCompile(`(?is)^CREATE\s+(?:OR\s+REPLACE\s+)?(?:FUNCTION|PROCEDURE)\s+` + ident + `\s*\(`)
	createExtensionRE = regexp.MustCompile(`(?is)^CREATE\s+EXTENSION\s+(?:IF\s+NOT\s+EXISTS\s+)?` + ident)
	alterTableRE      = regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+(?:IF\s+EXISTS\s+)?(?:ONLY\s+)?` + ident)
	dropTableRE       = regexp.MustCompile(`(?is)^DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?` + ident)
	dropIndexRE       = regexp.MustCompile(`(?is)^DROP\s+INDEX\s+(?:CONCURRENTLY\s+)?(?:IF\s+EXISTS\s+)?` + ident)
	insertRE          = regexp.MustCompile(`(?is)^INSERT\s+INTO\s+` + ident)
)

// Describe extracts the object a statement acts on. Unrecognized statements
// return an Object with only Kind set.
func Describe(stmt string) Object {
	s := StripLeadingComments(stmt)
	obj := Object{Kind: Classify(s)}

	switch obj.Kind {
	case KindCreateTable:
		if m := createTableNameRE.FindStringSubmatch(s); m != nil {
			obj.Name = m[1]
		}
	case KindCreateIndex:
		if m := createIndexNameRE.FindStringSubmatch(s); m != nil && !strings.EqualFold(m[1], "ON") {
			obj.Name, obj.Table = m[1], m[2]
		}
	case KindCreatePolicy:
		if m := createPolicyRE.FindStringSubmatch(s); m != nil {
			obj.Name, obj.Table = m[1], m[2]
		}
	case KindCreateTrigger:
		if m := createTriggerRE.FindStringSubmatch(s); m != nil {
			obj.Name, obj.Table = m[1], m[2]
		}
	case KindCreateFunction:
		if loc := createFunctionRE.FindStringSubmatchIndex(s); loc != nil {
			obj.Name = s[loc[2]:loc[3]]
			obj.Args = balancedParens(s[loc[1]-1:])
		}
	case KindCreateExtension:
		if m := createExtensionRE.FindStringSubmatch(s); m != nil {
			obj.Name = m[1]
		}
	case KindAlterTable:
		if m := alterTableRE.FindStringSubmatch(s); m != nil {
			obj.Name, obj.Table = m[1], m[1]
		}
	case KindDropTable:
		if m := dropTableRE.FindStringSubmatch(s); m != nil {
			obj.Name = m[1]
		}
	case KindDropIndex:
		if m := dropIndexRE.FindStringSubmatch(s); m != nil {
			obj.Name = m[1]
		}
	case KindInsert:
		if m := insertRE.FindStringSubmatch(s); m != nil {
			obj.Table = m[1]
		}
	}
	return obj
}

// balancedParens returns the contents of the parenthesized group s starts with
func balancedParens(s string) string {
	if !strings.HasPrefix(s, "(") {
		return ""
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[1:i])
			}
		}
	}
	return ""
}

// BaseName reduces an identifier as written to the bare name the catalog
// reports: the schema qualifier is dropped, quoted names keep their case and
// unquoted names are folded to lower case.
func BaseName(name string) string {
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(name, `"`) {
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		return strings.ToLower(name)
	}
	if i := strings.LastIndex(name, `."`); i >= 0 {
		name = name[i+1:]
	}
	return strings.Trim(name, `"`)
}

// CreatedTables returns the bare names of tables created by script, in order
func CreatedTables(script string) []string {
	var tables []string
	seen := make(map[string]bool)
	for _, stmt := range Split(script) {
		obj := Describe(stmt)
		if obj.Kind != KindCreateTable || obj.Name == "" {
			continue
		}
		name := BaseName(obj.Name)
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	return tables
}
