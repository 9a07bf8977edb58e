package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcouncil/core"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the configured role assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := cfg.Registry()
		if err != nil {
			return err
		}

		fmt.Println("Roles:")
		for _, role := range core.Roles() {
			b, fellBack := reg.Resolve(role)
			suffix := ""
			if fellBack {
				suffix = " (default)"
			}
			fmt.Printf("  %-10s %s%s\n", role, b.ID(), suffix)
		}

		fmt.Printf("\nDefault: %s\n", reg.Fallback().ID())
		fmt.Println("\nConsensus panel:")
		for _, b := range reg.Panel() {
			fmt.Printf("  %s\n", b.ID())
		}
		return nil
	},
}
