package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Reload the exercise catalogue from disk",
	Long: `Scan the exercises directory and replace the stored catalogue in one
transaction. If loading fails the previous catalogue is kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)

		a := newApp(cfg)
		defer a.Close()

		if err := a.openCatalogue(ctx); err != nil {
			return fmt.Errorf("open catalogue: %w", err)
		}

		start := time.Now()
		n, err := a.exercises.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("load exercises: %w", err)
		}
		fmt.Printf("Loaded %d exercises from %s in %s\n", n, cfg.Exercises.Root, time.Since(start).Round(time.Millisecond))
		return nil
	},
}
