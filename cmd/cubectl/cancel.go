package main

import (
	"fmt"

	"github.com/brazildatacube/cubebuilder/internal/app"
	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/spf13/cobra"
)

var (
	cancelDatacube string
	cancelTile     string
	cancelPeriod   string
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel every non-terminal activity of a build (§5 cancellation)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cancelDatacube == "" {
			return errorsx.New(errorsx.Validation, "--datacube is required")
		}

		a, err := app.Bootstrap(cfg, logger)
		if err != nil {
			return errorsx.Wrap(errorsx.Fatal, err, "bootstrap")
		}
		defer a.Close()

		count, err := a.Store.CancelActivities(cmd.Context(), cancelDatacube, cancelTile, cancelPeriod)
		if err != nil {
			return errorsx.Wrap(errorsx.Fatal, err, "cancel activities")
		}
		if count == 0 {
			return errorsx.New(errorsx.NotFound, "no non-terminal activities matched %s/%s/%s", cancelDatacube, cancelTile, cancelPeriod)
		}

		fmt.Printf("cancelled %d activities\n", count)
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelDatacube, "datacube", "", "datacube (collection) ID")
	cancelCmd.Flags().StringVar(&cancelTile, "tile", "", "scope to one tile (optional)")
	cancelCmd.Flags().StringVar(&cancelPeriod, "period", "", "scope to one period (optional)")
}
