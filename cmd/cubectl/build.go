package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/app"
	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	buildDatacube    string
	buildTiles       []string
	buildCollections string
	buildSatellite   string
	buildStart       string
	buildEnd         string
	buildForce       bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Register a build (equivalent of POST /start)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if buildDatacube == "" || len(buildTiles) == 0 || buildCollections == "" || buildStart == "" {
			return errorsx.New(errorsx.Validation, "datacube, tiles, collections and start are required")
		}
		start, err := time.Parse("2006-01-02", buildStart)
		if err != nil {
			return errorsx.Wrap(errorsx.Validation, err, "invalid --start %q", buildStart)
		}
		end := time.Now().UTC()
		if buildEnd != "" {
			end, err = time.Parse("2006-01-02", buildEnd)
			if err != nil {
				return errorsx.Wrap(errorsx.Validation, err, "invalid --end %q", buildEnd)
			}
		}

		a, err := app.Bootstrap(cfg, logger)
		if err != nil {
			return errorsx.Wrap(errorsx.Fatal, err, "bootstrap")
		}
		defer a.Close()

		req := orchestrator.BuildRequest{
			DatacubeID:  buildDatacube,
			TileIDs:     buildTiles,
			Collections: splitCSV(buildCollections),
			Satellite:   buildSatellite,
			StartDate:   start,
			EndDate:     end,
			Force:       buildForce,
		}
		result, err := a.Orchestrator.Plan(cmd.Context(), req)
		if err != nil {
			return err
		}

		fmt.Printf("registered %d periods: %d merge, %d blend, %d publish activities\n",
			result.Periods, result.MergeCreated, result.BlendCreated, result.PublishCreated)
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

func splitCSV(csv string) []string {
	var out []string
	for _, c := range strings.Split(csv, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func init() {
	buildCmd.Flags().StringVar(&buildDatacube, "datacube", "", "datacube (collection) ID")
	buildCmd.Flags().StringSliceVar(&buildTiles, "tiles", nil, "tile IDs (comma-separated)")
	buildCmd.Flags().StringVar(&buildCollections, "collections", "", "source collection IDs (comma-separated)")
	buildCmd.Flags().StringVar(&buildSatellite, "satellite", "", "satellite/platform filter")
	buildCmd.Flags().StringVar(&buildStart, "start", "", "start date (YYYY-MM-DD)")
	buildCmd.Flags().StringVar(&buildEnd, "end", "", "end date (YYYY-MM-DD), defaults to now")
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "rebuild periods even if already done")
}
