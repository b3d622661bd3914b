package idempotency

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// BatchSize bounds the number of rows in one upsert statement
const BatchSize = 50

// Strategy selects how seed rows are inserted
type Strategy string

const (
	// StrategyExistence emits one guarded INSERT ... SELECT per row
	StrategyExistence Strategy = "existence"
	// StrategyUpsert emits batched INSERT ... ON CONFLICT DO UPDATE
	StrategyUpsert Strategy = "upsert"
	// StrategyAuto upserts when there are more rows than fit in one batch
	StrategyAuto Strategy = "auto"
)

// SeedData is a set of rows destined for one table
type SeedData struct {
	Table   string          `json:"table,omitempty" yaml:"table"`
	Columns []string        `json:"columns" yaml:"columns"`
	Rows    [][]interface{} `json:"rows" yaml:"rows"`
	Key     string          `json:"key,omitempty" yaml:"key"` // conflict / existence column, "id" when empty
}

func (d SeedData) key() string {
	if d.Key == "" {
		return "id"
	}
	return d.Key
}

func (d SeedData) keyIndex() (int, error) {
	for i, c := range d.Columns {
		if c == d.key() {
			return i, nil
		}
	}
	return -1, fmt.Errorf("key column %q not found in columns of %s", d.key(), d.Table)
}

func (d SeedData) validate() error {
	if d.Table == "" {
		return fmt.Errorf("seed data has no table")
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("seed data for %s has no columns", d.Table)
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Columns) {
			return fmt.Errorf("row %d of %s has %d values, want %d", i, d.Table, len(row), len(d.Columns))
		}
	}
	_, err := d.keyIndex()
	return err
}

// SeedSQL renders d with the chosen strategy
func SeedSQL(d SeedData, strategy Strategy) (string, error) {
	switch strategy {
	case StrategyExistence:
		return SeedInserts(d)
	case StrategyUpsert:
		return UpsertBatches(d)
	case StrategyAuto, "":
		if len(d.Rows) > BatchSize {
			return UpsertBatches(d)
		}
		return SeedInserts(d)
	default:
		return "", fmt.Errorf("unknown seed strategy %q", strategy)
	}
}

// SeedInserts emits one INSERT ... SELECT ... WHERE NOT EXISTS per row, so a
// row is only inserted when no row with the same key is present.
func SeedInserts(d SeedData) (string, error) {
	if err := d.validate(); err != nil {
		return "", err
	}
	keyIdx, _ := d.keyIndex()

	table := QuoteQualified(d.Table)
	cols := quoteColumns(d.Columns)
	key := pq.QuoteIdentifier(d.key())

	var b strings.Builder
	for _, row := range d.Rows {
		values, err := literals(row)
		if err != nil {
			return "", fmt.Errorf("failed to render row for %s: %w", d.Table, err)
		}
		fmt.Fprintf(&b, "INSERT INTO %s (%s)\nSELECT %s\nWHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = %s);\n\n",
			table, cols, strings.Join(values, ", "), table, key, values[keyIdx])
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

// UpsertBatches emits INSERT ... VALUES ... ON CONFLICT (key) DO UPDATE in
// batches of BatchSize rows. Tables seeded with only the key column get
// DO NOTHING.
func UpsertBatches(d SeedData) (string, error) {
	if err := d.validate(); err != nil {
		return "", err
	}

	table := QuoteQualified(d.Table)
	cols := quoteColumns(d.Columns)
	key := pq.QuoteIdentifier(d.key())

	var updates []string
	for _, c := range d.Columns {
		if c == d.key() {
			continue
		}
		q := pq.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	var b strings.Builder
	for start := 0; start < len(d.Rows); start += BatchSize {
		end := start + BatchSize
		if end > len(d.Rows) {
			end = len(d.Rows)
		}
		tuples := make([]string, 0, end-start)
		for _, row := range d.Rows[start:end] {
			values, err := literals(row)
			if err != nil {
				return "", fmt.Errorf("failed to render row for %s: %w", d.Table, err)
			}
			tuples = append(tuples, "  ("+strings.Join(values, ", ")+")")
		}
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES\n%s\nON CONFLICT (%s) %s;\n\n",
			table, cols, strings.Join(tuples, ",\n"), key, action)
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

// QuoteQualified quotes each part of a possibly schema-qualified name
func QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(strings.Trim(p, `"`))
	}
	return strings.Join(parts, ".")
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func literals(row []interface{}) ([]string, error) {
	out := make([]string, len(row))
	for i, v := range row {
		lit, err := Literal(v)
		if err != nil {
			return nil, err
		}
		out[i] = lit
	}
	return out, nil
}

// Literal renders a Go value as a PostgreSQL literal
func Literal(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return pq.QuoteLiteral(val), nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case json.Number:
		return val.String(), nil
	case time.Time:
		return pq.QuoteLiteral(val.UTC().Format(time.RFC3339Nano)), nil
	case []string:
		items := make([]string, len(val))
		for i, s := range val {
			items[i] = pq.QuoteLiteral(s)
		}
		return "ARRAY[" + strings.Join(items, ", ") + "]::text[]", nil
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("failed to encode json literal: %w", err)
		}
		return pq.QuoteLiteral(string(raw)) + "::jsonb", nil
	default:
		return pq.QuoteLiteral(fmt.Sprint(val)), nil
	}
}
