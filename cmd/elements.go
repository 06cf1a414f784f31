// File: cmd/elements.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skua-labs/deskpilot/internal/observability"
	"github.com/skua-labs/deskpilot/internal/session"
)

// newElementsCmd creates the `elements` command, which dumps everything the
// detection tiers can currently see on screen.
func newElementsCmd() *cobra.Command {
	elementsCmd := &cobra.Command{
		Use:   "elements",
		Short: "Lists the interactive elements and on-screen text for an application",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			sess, err := session.New(appConfig, viper.GetString("app"), logger)
			if err != nil {
				return fmt.Errorf("assemble session: %w", err)
			}

			snap, err := sess.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Frontmost: %s\n", snap.Frontmost)

			fmt.Fprintf(out, "Accessibility elements (%d):\n", len(snap.Elements))
			for _, el := range snap.Elements {
				state := ""
				if !el.Enabled {
					state = " [disabled]"
				}
				fmt.Fprintf(out, "  %-12s %q @ (%d,%d)%s\n", el.Role, el.Title, el.Center.X, el.Center.Y, state)
			}

			fmt.Fprintf(out, "Recognized text (%d words):\n", len(snap.Words))
			for _, w := range snap.Words {
				c := w.Center()
				fmt.Fprintf(out, "  %q @ (%d,%d) conf=%.2f\n", w.Text, c.X, c.Y, w.Confidence)
			}
			return nil
		},
	}

	elementsCmd.Flags().StringP("app", "a", "", "Target application name")
	return elementsCmd
}

func init() {
	rootCmd.AddCommand(newElementsCmd())
}
