package main

import (
	"github.com/spf13/cobra"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

var (
	refreshState    bool
	invalidateState bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the cached system state",
	Long: `Show the cached view of database objects, executed migrations, API routes,
UI components and the features they add up to. The snapshot is rebuilt when
it is older than state.ttl or when --refresh is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if invalidateState {
			if err := a.cache.Invalidate(ctx); err != nil {
				return err
			}
			logger.Info("System state cache cleared")
			return nil
		}

		snapshot, err := a.cache.Get(ctx, refreshState)
		if err != nil {
			return err
		}
		renderer().RenderSnapshot(snapshot)
		return nil
	},
}

func init() {
	stateCmd.Flags().BoolVar(&refreshState, "refresh", false, "Rebuild the snapshot even if the cached one is fresh")
	stateCmd.Flags().BoolVar(&invalidateState, "invalidate", false, "Clear the cached snapshot and exit")
}
