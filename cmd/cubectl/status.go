package main

import (
	"fmt"

	"github.com/brazildatacube/cubebuilder/internal/app"
	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/spf13/cobra"
)

var statusDatacube string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report a build's progress (equivalent of GET /status)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusDatacube == "" {
			return errorsx.New(errorsx.Validation, "--datacube is required")
		}

		a, err := app.Bootstrap(cfg, logger)
		if err != nil {
			return errorsx.Wrap(errorsx.Fatal, err, "bootstrap")
		}
		defer a.Close()

		status, err := a.Store.BuildStatus(cmd.Context(), statusDatacube)
		if err != nil {
			return errorsx.Wrap(errorsx.NotFound, err, "datacube %s", statusDatacube)
		}

		if status.Finished() {
			fmt.Printf("finished: true  done=%d error=%d duration=%s\n", status.Done, status.Error, status.Duration())
			return nil
		}
		fmt.Printf("finished: false  done=%d not_done=%d error=%d\n", status.Done, status.NotDone, status.Error)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDatacube, "datacube", "", "datacube (collection) ID")
}
