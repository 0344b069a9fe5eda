package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanged123/hermes/pkg/xcmd"
)

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Hermes deterministic lockstep simulation orchestrator",
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newListSignalsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) {
			os.Exit(0)
		}
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}
