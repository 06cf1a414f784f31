// File: cmd/locate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skua-labs/deskpilot/internal/observability"
	"github.com/skua-labs/deskpilot/internal/session"
)

// newLocateCmd creates the `locate` command: resolve a single target through
// the tiers without acting on it.
func newLocateCmd() *cobra.Command {
	locateCmd := &cobra.Command{
		Use:   "locate <target>",
		Short: "Resolves a UI element to screen coordinates without clicking it",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			sess, err := session.New(appConfig, viper.GetString("app"), logger)
			if err != nil {
				return fmt.Errorf("assemble session: %w", err)
			}

			outcome, err := sess.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}

			out := cmd.OutOrStdout()
			if !outcome.Found() {
				fmt.Fprintf(out, "not found: %s\n", outcome.Reason)
				return fmt.Errorf("target %q not found", args[0])
			}

			c := outcome.Resolved
			fmt.Fprintf(out, "(%d,%d) tier=%s confidence=%.2f method=%s\n",
				c.Point.X, c.Point.Y, c.Tier, c.Confidence, c.MethodDetail)
			return nil
		},
	}

	locateCmd.Flags().StringP("app", "a", "", "Target application name")
	return locateCmd
}

func init() {
	rootCmd.AddCommand(newLocateCmd())
}
