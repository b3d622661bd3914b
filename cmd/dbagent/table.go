package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/agent"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/generator"
)

var (
	tableDescription string
	tableColumns     []string
	tableRLS         bool
	tableSpecFile    string
	tableExecute     bool
	tableDryRun      bool
)

var addTableCmd = &cobra.Command{
	Use:   "add-table [name]",
	Short: "Generate a migration for a new table",
	Long: `Generate an idempotent CREATE TABLE migration and write it to the first
migration directory. Nothing is generated when the table already exists.

Columns are given as name:type with optional modifiers, for example
  --column title:TEXT --column album_id:UUID:ref=albums --column plays:INTEGER:null:default=0

Without --column the SQL is written by Claude when ai.api_key is set.
--spec reads the whole request, including seed rows, from a YAML or JSON file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildTableRequest(args)
		if err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return err
		}

		gen, err := newGenerator(cfg)
		if err != nil {
			return err
		}

		ctx := executor.WithExecutedBy(cmd.Context(), "cli:add-table")
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		tables := agent.New(a.cache, gen, a.exec, a.exec.Loader().PrimaryDir())
		result, err := tables.AddTable(ctx, req, agent.Options{Execute: tableExecute, DryRun: tableDryRun})
		if result != nil {
			renderer().RenderAddTable(result)
		}
		return err
	},
}

func init() {
	addTableCmd.Flags().StringVarP(&tableDescription, "description", "d", "", "What the table stores")
	addTableCmd.Flags().StringArrayVarP(&tableColumns, "column", "c", nil, "Column as name:type[:null][:default=expr][:ref=table]")
	addTableCmd.Flags().BoolVar(&tableRLS, "rls", false, "Enable row level security with a read policy")
	addTableCmd.Flags().StringVar(&tableSpecFile, "spec", "", "YAML or JSON file with the table request")
	addTableCmd.Flags().BoolVar(&tableExecute, "execute", false, "Apply the migration after writing it")
	addTableCmd.Flags().BoolVar(&tableDryRun, "dry-run", false, "Print the SQL without writing a file")
}

// buildTableRequest merges the spec file, if any, with the flags. Flags win.
func buildTableRequest(args []string) (*generator.TableRequest, error) {
	req := &generator.TableRequest{}
	if tableSpecFile != "" {
		loaded, err := loadTableRequest(tableSpecFile)
		if err != nil {
			return nil, err
		}
		req = loaded
	}
	if len(args) == 1 {
		req.Table = args[0]
	}
	if req.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if tableDescription != "" {
		req.Description = tableDescription
	}
	if tableRLS {
		req.EnableRLS = true
	}
	for _, spec := range tableColumns {
		col, err := parseColumn(spec)
		if err != nil {
			return nil, err
		}
		req.Columns = append(req.Columns, col)
	}
	return req, nil
}

// loadTableRequest decodes path as JSON when it has a .json extension and as YAML otherwise
func loadTableRequest(path string) (*generator.TableRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table spec: %w", err)
	}

	var req generator.TableRequest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &req)
	} else {
		err = yaml.Unmarshal(data, &req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse table spec %s: %w", path, err)
	}
	return &req, nil
}

// parseColumn parses name:type[:null][:default=expr][:ref=table]. Columns are
// NOT NULL unless marked null.
func parseColumn(spec string) (generator.Column, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return generator.Column{}, fmt.Errorf("invalid column %q: want name:type", spec)
	}

	col := generator.Column{
		Name: strings.TrimSpace(parts[0]),
		Type: strings.ToUpper(strings.TrimSpace(parts[1])),
	}
	for _, mod := range parts[2:] {
		key, value, hasValue := strings.Cut(strings.TrimSpace(mod), "=")
		switch {
		case strings.EqualFold(key, "null") && !hasValue:
			col.Nullable = true
		case strings.EqualFold(key, "default") && hasValue:
			col.Default = value
		case strings.EqualFold(key, "ref") && hasValue:
			col.References = value
		default:
			return generator.Column{}, fmt.Errorf("invalid column %q: unknown modifier %q", spec, mod)
		}
	}
	return col, nil
}
