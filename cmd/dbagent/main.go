package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/config"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/output"
)

var version = "dev"

var (
	cfgFile string
	format  string

	v   = config.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dbagent",
	Short: "Idempotent PostgreSQL migrations for the streaming app",
	Long: `dbagent applies SQL migrations to PostgreSQL one statement at a time.

Every migration is rewritten to be safe to re-run, recorded in a tracking
table with the SQL needed to undo it, and checked against a cached view of
the database, API routes and UI components before anything executes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
		if cfg.Log.File != "" {
			logger.SetFile(cfg.Log.File)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to a rotated file instead of stderr")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = v.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	rootCmd.AddCommand(
		migrateCmd,
		statusCmd,
		rollbackCmd,
		debugCmd,
		verifyCmd,
		validateCmd,
		stateCmd,
		addTableCmd,
		serveCmd,
	)
}

func renderer() output.Renderer {
	return output.NewRenderer(format, os.Stdout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
