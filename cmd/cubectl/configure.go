package main

import (
	"fmt"

	"github.com/brazildatacube/cubebuilder/internal/config"
	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/spf13/cobra"
)

var configureToken string

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Store the STAC provider bearer token in the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configureToken == "" {
			return errorsx.New(errorsx.Validation, "--stac-token is required")
		}

		km := config.NewKeyringManager()
		if !km.IsAvailable() {
			return errorsx.New(errorsx.Conflict, "no usable OS keychain on this host")
		}
		if err := km.SaveSTACToken(configureToken); err != nil {
			return errorsx.Wrap(errorsx.Fatal, err, "save STAC token")
		}

		fmt.Println("STAC token saved")
		return nil
	},
}

func init() {
	configureCmd.Flags().StringVar(&configureToken, "stac-token", "", "STAC provider bearer token")
}
