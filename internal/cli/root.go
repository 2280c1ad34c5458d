// Package cli implements the quizload command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ErrRunFailed is returned when a run completes but does not pass its
// thresholds. The summary has already been printed by then.
var ErrRunFailed = errors.New("run did not pass")

// NewRootCmd builds the quizload command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "quizload",
		Short:   "Load generator for the quiz HTTP gateway",
		Version: Version(),
		Long: `quizload simulates users of the quiz gateway. Each user registers,
logs in and then repeatedly lists quizzes, updates its score and reads the
ranking, or creates a question, pausing between actions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStubCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command against os.Args.
// This is called by main.main().
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil && !errors.Is(err, ErrRunFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
