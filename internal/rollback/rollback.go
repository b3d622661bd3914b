// Package rollback derives reverse SQL for a migration. Every statement is
// classified as reversible, with the statement that undoes it, or
// irreversible, with the reason.
package rollback

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
)

// Action is the reverse of one migration statement
type Action struct {
	Statement  string        `json:"statement"`
	Kind       sqlparse.Kind `json:"kind"`
	Reversible bool          `json:"reversible"`
	SQL        string        `json:"sql,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

func reversible(stmt string, kind sqlparse.Kind, sql string) Action {
	return Action{Statement: stmt, Kind: kind, Reversible: true, SQL: sql}
}

func irreversible(stmt string, kind sqlparse.Kind, reason string) Action {
	return Action{Statement: stmt, Kind: kind, Reason: reason}
}

var (
	procedureRE   = regexp.MustCompile(`(?i)^CREATE\s+(?:OR\s+REPLACE\s+)?PROCEDURE\b`)
	argDefaultsRE = regexp.MustCompile(`(?i)\bDEFAULT\b|=`)
)

// Plan returns one Action per statement, in statement order
func Plan(stmts []string) []Action {
	actions := make([]Action, 0, len(stmts))
	for _, stmt := range stmts {
		actions = append(actions, planOne(stmt))
	}
	return actions
}

func planOne(stmt string) Action {
	obj := sqlparse.Describe(stmt)
	switch obj.Kind {
	case sqlparse.KindCreateTable:
		if obj.Name == "" {
			break
		}
		return reversible(stmt, obj.Kind, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", obj.Name))

	case sqlparse.KindCreateIndex:
		if obj.Name == "" {
			return irreversible(stmt, obj.Kind, "index has no explicit name")
		}
		return reversible(stmt, obj.Kind, fmt.Sprintf("DROP INDEX IF EXISTS %s;", obj.Name))

	case sqlparse.KindCreatePolicy:
		if obj.Name == "" {
			break
		}
		return reversible(stmt, obj.Kind, fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s;", obj.Name, obj.Table))

	case sqlparse.KindCreateTrigger:
		if obj.Name == "" {
			break
		}
		return reversible(stmt, obj.Kind, fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s;", obj.Name, obj.Table))

	case sqlparse.KindCreateFunction:
		if obj.Name == "" {
			break
		}
		what := "FUNCTION"
		if procedureRE.MatchString(sqlparse.StripLeadingComments(stmt)) {
			what = "PROCEDURE"
		}
		signature := obj.Name + "(" + obj.Args + ")"
		if argDefaultsRE.MatchString(obj.Args) {
			// DROP cannot take default clauses; the bare name works while it is not overloaded
			signature = obj.Name
		}
		return reversible(stmt, obj.Kind, fmt.Sprintf("DROP %s IF EXISTS %s CASCADE;", what, signature))

	case sqlparse.KindCreateExtension:
		if obj.Name == "" {
			break
		}
		return reversible(stmt, obj.Kind, fmt.Sprintf("DROP EXTENSION IF EXISTS %s;", obj.Name))

	case sqlparse.KindDropTable, sqlparse.KindDropIndex:
		return irreversible(stmt, obj.Kind, "dropped objects cannot be restored")
	case sqlparse.KindInsert:
		return irreversible(stmt, obj.Kind, "seed rows are not removed")
	case sqlparse.KindAlterTable:
		return irreversible(stmt, obj.Kind, "table alterations are not reversed")
	case sqlparse.KindDo:
		return irreversible(stmt, obj.Kind, "anonymous code blocks have no inverse")
	}
	return irreversible(stmt, obj.Kind, fmt.Sprintf("no reverse action for %s statements", obj.Kind))
}

// Generate returns the rollback script for stmts (reverse actions in reverse
// statement order) and the actions that could not be reversed. The script is
// empty when nothing is reversible.
func Generate(stmts []string) (string, []Action) {
	return Script(Plan(stmts))
}

// Script assembles a rollback script from planned actions
func Script(actions []Action) (string, []Action) {
	var (
		lines   []string
		skipped []Action
	)
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if !a.Reversible {
			skipped = append([]Action{a}, skipped...)
			continue
		}
		lines = append(lines, a.SQL)
	}
	if len(lines) == 0 {
		return "", skipped
	}
	return strings.Join(lines, "\n") + "\n", skipped
}
