package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "cowfork",
	Short:         "cowfork -- copy-on-write fork on a simulated exokernel",
	Long:          "cowfork runs user-space copy-on-write fork scenarios on an in-process model of an exokernel.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
