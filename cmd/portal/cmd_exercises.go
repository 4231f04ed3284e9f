package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pyportal/internal/domain"
)

var showSolution bool

var exercisesCmd = &cobra.Command{
	Use:     "exercises",
	Aliases: []string{"ex"},
	Short:   "Inspect the stored exercise catalogue",
}

var exercisesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exercises in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a := newApp(cfg)
		defer a.Close()

		if err := a.openCatalogue(ctx); err != nil {
			return fmt.Errorf("open catalogue: %w", err)
		}
		exercises, err := a.exercises.List(ctx)
		if err != nil {
			return err
		}
		if len(exercises) == 0 {
			fmt.Println("No exercises loaded (run 'portal load' first)")
			return nil
		}
		return printExerciseTable(os.Stdout, exercises)
	},
}

var exercisesShowCmd = &cobra.Command{
	Use:   "show <id-or-folder>",
	Short: "Show one exercise",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		a := newApp(cfg)
		defer a.Close()

		if err := a.openCatalogue(ctx); err != nil {
			return fmt.Errorf("open catalogue: %w", err)
		}
		ex, err := a.exercises.Get(ctx, args[0])
		if err != nil {
			return err
		}
		printExercise(os.Stdout, ex, showSolution)
		return nil
	},
}

func init() {
	exercisesShowCmd.Flags().BoolVar(&showSolution, "solution", false, "include the reference solution")
	exercisesCmd.AddCommand(exercisesListCmd)
	exercisesCmd.AddCommand(exercisesShowCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printExerciseTable(w io.Writer, exercises []*domain.Exercise) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tFOLDER\tTITLE\tDIFFICULTY\tTOPICS\tMIN")
	for _, ex := range exercises {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			ex.Order, ex.Slug, ex.Title, ex.Difficulty, strings.Join(ex.Topics, ","), ex.EstimatedTime)
	}
	return tw.Flush()
}

func printExercise(w io.Writer, ex *domain.Exercise, withSolution bool) {
	fmt.Fprintf(w, "%s (%s)\n", ex.Title, ex.Slug)
	fmt.Fprintf(w, "ID:         %s\n", ex.ID)
	fmt.Fprintf(w, "Difficulty: %s\n", ex.Difficulty)
	if len(ex.Topics) > 0 {
		fmt.Fprintf(w, "Topics:     %s\n", strings.Join(ex.Topics, ", "))
	}
	fmt.Fprintf(w, "Estimated:  %d min\n", ex.EstimatedTime)

	section(w, "Instructions", ex.Instructions)
	section(w, "Starter code", ex.StarterCode)
	if len(ex.Hints) > 0 {
		section(w, "Hints", "- "+strings.Join(ex.Hints, "\n- "))
	}
	if withSolution {
		section(w, "Solution", ex.SolutionCode)
	}
}

func section(w io.Writer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(w, "\n== %s ==\n%s\n", title, strings.TrimRight(body, "\n"))
}
