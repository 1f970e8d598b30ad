package main

import (
	"fmt"
	"os"

	"github.com/kahiteam/cowfork/internal/config"
	"github.com/spf13/cobra"
)

var (
	initOutput string
	initStdout bool
	initForce  bool
	initNPages int
	initNEnv   int
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a sample cowfork.toml with the classic fork scenario",
	Long: "Init writes a commented config that maps one page, forks, and has the\n" +
		"parent write while the child reads. --npages and --nenv size the machine;\n" +
		"the file is validated before it is written.",
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := config.GenerateTOML(config.KernelConfig{NPages: initNPages, NEnv: initNEnv})
		if err != nil {
			return err
		}

		if initStdout {
			_, err := fmt.Fprint(cmd.OutOrStdout(), content)
			return err
		}

		outPath := initOutput
		if outPath == "" {
			outPath = config.DefaultSearchPaths[0]
		}
		if !initForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("file %s already exists; use --force to overwrite", outPath)
			}
		}

		if err := os.WriteFile(outPath, []byte(content), 0644); err != nil {
			return fmt.Errorf("cannot write config: %w", err)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
		return err
	},
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "", "write config to file (default: ./cowfork.toml, the first search path)")
	initCmd.Flags().BoolVar(&initStdout, "stdout", false, "print config to stdout instead of writing a file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing file")
	initCmd.Flags().IntVar(&initNPages, "npages", 0, "physical pages in the simulated machine (default 1024)")
	initCmd.Flags().IntVar(&initNEnv, "nenv", 0, "environment table size (default 1024)")
	rootCmd.AddCommand(initCmd)
}
