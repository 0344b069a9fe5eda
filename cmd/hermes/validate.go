package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanged123/hermes/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Printf("OK: %d module(s), %d wire(s)\n", len(cfg.Modules), len(cfg.Wiring))
			return nil
		},
	}
}
