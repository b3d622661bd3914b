package rollback

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
)

func TestGenerate(t *testing.T) {
	script := `CREATE EXTENSION IF NOT EXISTS pgcrypto;
CREATE TABLE IF NOT EXISTS playlists (id uuid PRIMARY KEY, owner uuid);
CREATE INDEX IF NOT EXISTS idx_playlists_owner ON playlists (owner);
CREATE POLICY owner_read ON playlists FOR SELECT USING (owner = auth.uid());
CREATE OR REPLACE FUNCTION touch() RETURNS trigger AS $$
BEGIN
  NEW.updated_at = now();
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;
CREATE TRIGGER playlists_touch BEFORE UPDATE ON playlists FOR EACH ROW EXECUTE FUNCTION touch();
INSERT INTO playlists (id) SELECT gen_random_uuid() WHERE NOT EXISTS (SELECT 1 FROM playlists);`

	got, skipped := Generate(sqlparse.Split(script))

	want := `DROP TRIGGER IF EXISTS playlists_touch ON playlists;
DROP FUNCTION IF EXISTS touch() CASCADE;
DROP POLICY IF EXISTS owner_read ON playlists;
DROP INDEX IF EXISTS idx_playlists_owner;
DROP TABLE IF EXISTS playlists CASCADE;
DROP EXTENSION IF EXISTS pgcrypto;
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Generate() script mismatch (-want +got):\n%s", diff)
	}
	if len(skipped) != 1 || skipped[0].Kind != sqlparse.KindInsert {
		t.Errorf("Generate() skipped = %+v, want the INSERT only", skipped)
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name       string
		stmt       string
		reversible bool
		sql        string
	}{
		{"schema qualified table", "CREATE TABLE app.users (id int);", true, "DROP TABLE IF EXISTS app.users CASCADE;"},
		{"function with defaults", "CREATE FUNCTION add(a int, b int DEFAULT 1) RETURNS int AS $$ SELECT a + b $$ LANGUAGE sql;", true, "DROP FUNCTION IF EXISTS add CASCADE;"},
		{"function with args", "CREATE FUNCTION add(a int, b int) RETURNS int AS $$ SELECT a + b $$ LANGUAGE sql;", true, "DROP FUNCTION IF EXISTS add(a int, b int) CASCADE;"},
		{"procedure", "CREATE PROCEDURE refresh() LANGUAGE sql AS $$ SELECT 1 $$;", true, "DROP PROCEDURE IF EXISTS refresh() CASCADE;"},
		{"unnamed index", "CREATE INDEX ON t (a);", false, ""},
		{"alter table", "ALTER TABLE t ADD COLUMN n int;", false, ""},
		{"drop table", "DROP TABLE IF EXISTS t;", false, ""},
		{"do block", "DO $$ BEGIN END $$;", false, ""},
		{"grant", "GRANT SELECT ON t TO anon;", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan([]string{tt.stmt})[0]
			if got.Reversible != tt.reversible {
				t.Fatalf("Reversible = %v, want %v (reason %q)", got.Reversible, tt.reversible, got.Reason)
			}
			if got.SQL != tt.sql {
				t.Errorf("SQL = %q, want %q", got.SQL, tt.sql)
			}
			if !got.Reversible && got.Reason == "" {
				t.Error("irreversible action has no reason")
			}
		})
	}
}

func TestGenerateNothingReversible(t *testing.T) {
	got, skipped := Generate([]string{"INSERT INTO t (id) VALUES (1);"})
	if got != "" {
		t.Errorf("Generate() script = %q, want empty", got)
	}
	if len(skipped) != 1 {
		t.Errorf("Generate() skipped %d actions, want 1", len(skipped))
	}
}
