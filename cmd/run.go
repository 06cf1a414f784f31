// File: cmd/run.go
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/skua-labs/deskpilot/internal/loop"
	"github.com/skua-labs/deskpilot/internal/observability"
	"github.com/skua-labs/deskpilot/internal/session"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [instructions...]",
		Short: "Executes a scripted task against a desktop application",
		Long: `Run executes instructions against the target application, resolving each
target through the detection tiers and validating every coordinate before
acting. Instructions come from --script or inline, semicolon-separated:

  deskpilot run --app TextEdit 'click Save; type "report" into Name field; done'`,
		Args: cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			app := viper.GetString("app")
			scriptPath := viper.GetString("script")

			lines, err := gatherInstructions(scriptPath, args)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return fmt.Errorf("no instructions given; pass them inline or via --script")
			}

			directives, err := session.ParseScript(lines)
			if err != nil {
				return fmt.Errorf("parse instructions: %w", err)
			}

			sess, err := session.New(appConfig, app, logger)
			if err != nil {
				return fmt.Errorf("assemble session: %w", err)
			}

			taskID := uuid.New().String()
			task := strings.Join(lines, "; ")
			logger.Info("Starting task",
				zap.String("taskID", taskID),
				zap.String("app", app),
				zap.Int("instructions", len(directives)),
			)

			result, err := sess.RunTask(ctx, task, session.NewScriptDecider(directives))
			if err != nil {
				return err
			}

			printResult(cmd, taskID, result)
			if result.State != loop.StateSucceeded {
				return fmt.Errorf("task ended %s: %s", result.State, result.Reason)
			}
			return nil
		},
	}

	runCmd.Flags().StringP("app", "a", "", "Target application name")
	runCmd.Flags().StringP("script", "s", "", "Path to an instruction script file")
	return runCmd
}

// gatherInstructions merges a script file and inline arguments. Inline
// arguments may pack several instructions separated by semicolons.
func gatherInstructions(scriptPath string, args []string) ([]string, error) {
	var lines []string

	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("open script: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
	}

	for _, arg := range args {
		for _, part := range strings.Split(arg, ";") {
			if part = strings.TrimSpace(part); part != "" {
				lines = append(lines, part)
			}
		}
	}
	return lines, nil
}

func printResult(cmd *cobra.Command, taskID string, result *loop.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task %s: %s", taskID, result.State)
	if result.Reason != "" {
		fmt.Fprintf(out, " (%s)", result.Reason)
	}
	fmt.Fprintln(out)
	if result.Summary != "" {
		fmt.Fprintf(out, "Summary: %s\n", result.Summary)
	}
	for _, step := range result.Steps {
		status := "ok"
		if !step.Succeeded {
			status = "failed"
		}
		fmt.Fprintf(out, "  step %d: %s %q [%s] %s", step.Index+1, step.Action, step.Target, status, step.Detail)
		if step.Tier != "" {
			fmt.Fprintf(out, " via %s", step.Tier)
		}
		fmt.Fprintln(out)
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
