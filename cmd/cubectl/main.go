// cubectl is the admin CLI: build, status, cancel and configure, per §6
// exit codes (0 success, 2 validation, 3 not found, 4 conflict). Root
// command bootstrap mirrors the teacher's cmd/crisk/main.go.
package main

import (
	"fmt"
	"os"

	"github.com/brazildatacube/cubebuilder/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes per §6.
const (
	exitOK         = 0
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
)

var (
	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "cubectl",
	Short: "Admin CLI for the data cube build pipeline",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .cubebuilder/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configureCmd)
}
