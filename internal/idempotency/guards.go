package idempotency

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Statements without an IF NOT EXISTS form are wrapped in a DO block that
// checks the catalog first.

// PolicySQL creates policy name on table unless it already exists. definition
// is everything after "ON <table>", e.g. "FOR SELECT USING (auth.uid() = user_id)".
func PolicySQL(name, table, definition string) string {
	schema, bare := splitSchema(table)
	check := fmt.Sprintf("SELECT 1 FROM pg_policies WHERE schemaname = %s AND tablename = %s AND policyname = %s",
		pq.QuoteLiteral(schema), pq.QuoteLiteral(bare), pq.QuoteLiteral(name))
	stmt := fmt.Sprintf("CREATE POLICY %s ON %s %s;", pq.QuoteIdentifier(name), QuoteQualified(table), strings.TrimSpace(definition))
	return guarded(check, stmt)
}

// TriggerSQL creates trigger name on table unless it already exists.
// definition follows the trigger name, with %s standing for the table:
// "BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION touch()".
func TriggerSQL(name, table, definition string) string {
	schema, bare := splitSchema(table)
	check := fmt.Sprintf("SELECT 1 FROM pg_trigger WHERE tgname = %s AND tgrelid = %s::regclass",
		pq.QuoteLiteral(name), pq.QuoteLiteral(schema+"."+bare))
	body := strings.ReplaceAll(strings.TrimSpace(definition), "%s", QuoteQualified(table))
	stmt := fmt.Sprintf("CREATE TRIGGER %s %s;", pq.QuoteIdentifier(name), body)
	return guarded(check, stmt)
}

// AddColumnSQL adds column to table unless information_schema already lists it
func AddColumnSQL(table, column, definition string) string {
	schema, bare := splitSchema(table)
	check := fmt.Sprintf("SELECT 1 FROM information_schema.columns WHERE table_schema = %s AND table_name = %s AND column_name = %s",
		pq.QuoteLiteral(schema), pq.QuoteLiteral(bare), pq.QuoteLiteral(column))
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", QuoteQualified(table), pq.QuoteIdentifier(column), strings.TrimSpace(definition))
	return guarded(check, stmt)
}

func guarded(check, stmt string) string {
	var b strings.Builder
	b.WriteString("DO $$\nBEGIN\n")
	fmt.Fprintf(&b, "  IF NOT EXISTS (%s) THEN\n", check)
	fmt.Fprintf(&b, "    %s\n", stmt)
	b.WriteString("  END IF;\nEND $$;\n")
	return b.String()
}

func splitSchema(table string) (string, string) {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return strings.Trim(table[:i], `"`), strings.Trim(table[i+1:], `"`)
	}
	return "public", strings.Trim(table, `"`)
}
