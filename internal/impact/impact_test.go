package impact

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		snapshot *statecache.Snapshot
		want     *Report
		review   bool
	}{
		{
			name: "new table on empty state",
			sql: `CREATE TABLE IF NOT EXISTS recently_played (id uuid PRIMARY KEY, track_id uuid, played_at timestamptz);
CREATE INDEX IF NOT EXISTS idx_rp ON recently_played (played_at);`,
			snapshot: &statecache.Snapshot{},
			want: &Report{
				TablesCreated:   []string{"recently_played"},
				TablesModified:  []string{},
				IndexesCreated:  []string{"idx_rp"},
				PoliciesCreated: []string{},
			},
		},
		{
			name: "existing table is modified",
			sql: `CREATE TABLE IF NOT EXISTS public.tracks (id uuid);
CREATE POLICY "Users read own" ON tracks FOR SELECT USING (true);
ALTER TABLE albums ADD COLUMN cover_url text;`,
			snapshot: &statecache.Snapshot{Database: statecache.DatabaseState{Tables: []string{"tracks", "albums"}}},
			want: &Report{
				TablesCreated:   []string{},
				TablesModified:  []string{"tracks", "albums"},
				IndexesCreated:  []string{},
				PoliciesCreated: []string{`"Users read own"`},
			},
			review: true,
		},
		{
			name: "alter of a table created in the same script",
			sql: `CREATE TABLE playlists (id uuid);
ALTER TABLE playlists ENABLE ROW LEVEL SECURITY;`,
			snapshot: nil,
			want: &Report{
				TablesCreated:   []string{"playlists"},
				TablesModified:  []string{},
				IndexesCreated:  []string{},
				PoliciesCreated: []string{},
			},
		},
		{
			name:     "keywords in strings and comments are ignored",
			sql:      "-- CREATE TABLE ghost (id int);\nINSERT INTO notes (body) VALUES ('CREATE TABLE nope (id int);');",
			snapshot: &statecache.Snapshot{},
			want: &Report{
				TablesCreated:   []string{},
				TablesModified:  []string{},
				IndexesCreated:  []string{},
				PoliciesCreated: []string{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.sql, tt.snapshot)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Analyze() mismatch (-want +got):\n%s", diff)
			}
			if got.RequiresIdempotencyReview() != tt.review {
				t.Errorf("RequiresIdempotencyReview() = %v, want %v", got.RequiresIdempotencyReview(), tt.review)
			}
		})
	}
}
