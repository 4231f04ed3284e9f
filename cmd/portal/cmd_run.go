package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pyportal/internal/domain"
)

var (
	runExercise string
	runTests    bool
	runUser     string
)

var errRunFailed = errors.New("run failed")

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a Python file through the execution gateway",
	Long: `Run a Python file with the configured executor. With --tests the file is
checked against the exercise's test.py. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)

		code, err := readSource(args[0])
		if err != nil {
			return err
		}

		a := newApp(cfg)
		defer a.Close()

		if runExercise != "" {
			if err := a.openCatalogue(ctx); err != nil {
				return fmt.Errorf("open catalogue: %w", err)
			}
		}
		if runUser != "" {
			if err := a.connectPocketBase(ctx); err != nil {
				return fmt.Errorf("connect data backend: %w", err)
			}
		}
		if err := a.openGateway(ctx); err != nil {
			return fmt.Errorf("open gateway: %w", err)
		}

		resp, err := a.gateway.Execute(ctx, domain.ExecutionRequest{
			Code:       code,
			ExerciseID: runExercise,
			RunTests:   runTests,
			UserID:     runUser,
		})
		if err != nil {
			return err
		}

		printRun(os.Stdout, resp)
		if !resp.Success {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runExercise, "exercise", "e", "", "exercise id or folder name")
	runCmd.Flags().BoolVarP(&runTests, "tests", "t", false, "run the exercise's tests against the file")
	runCmd.Flags().StringVar(&runUser, "user", "", "record the attempt for this user")
}

func readSource(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func printRun(w io.Writer, resp *domain.ExecutionResponse) {
	if resp.Output != "" {
		fmt.Fprint(w, resp.Output)
		if resp.Output[len(resp.Output)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
	if resp.Errors != "" {
		fmt.Fprintf(w, "\n--- errors ---\n%s\n", resp.Errors)
	}

	if tr := resp.TestResult; tr != nil {
		fmt.Fprintf(w, "\nTests: %d/%d passed\n", tr.PassedCount(), len(tr.TestCases))
		for _, tc := range tr.TestCases {
			mark := "✓"
			if !tc.Passed {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s", mark, tc.Name)
			if tc.Error != "" {
				fmt.Fprintf(w, ": %s", tc.Error)
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintf(w, "(%d ms)\n", resp.ExecutionTime)
}
