package main

import (
	"fmt"

	"github.com/kahiteam/cowfork/internal/config"
	"github.com/spf13/cobra"
)

var validateConfig string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, src, err := config.Resolve(validateConfig)
		if err != nil {
			return err
		}
		_, warnings, err := config.Load(path)
		for _, w := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): OK\n", path, src)
		return err
	},
}

// loadConfig loads the named, COWFORK_CONFIG or discovered config, or the
// built-in defaults when there is none, printing warnings to stderr.
func loadConfig(cmd *cobra.Command, explicit string) (*config.Config, error) {
	cfg, _, warnings, err := config.LoadOrDefault(explicit)
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return cfg, err
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfig, "config", "c", "", "config file path")
	rootCmd.AddCommand(validateCmd)
}
