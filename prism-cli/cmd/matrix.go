package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prism-plan/domain"
	"prism-plan/matrix"
)

func newMatrixCmd(v *viper.Viper) *cobra.Command {
	var scopeFlag string
	var jsonOut bool
	c := &cobra.Command{
		Use:   "matrix",
		Short: "Print tasks grouped by quadrant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			scope, err := domain.ParseScope(scopeFlag)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd.Context(), s)
			defer cancel()
			g, err := s.client().Matrix(ctx, scope)
			if err != nil {
				return fmt.Errorf("fetch matrix: %w", err)
			}
			if jsonOut {
				return writeJSON(cmd, g)
			}
			printMatrix(cmd, scope, g)
			return nil
		},
	}
	c.Flags().StringVar(&scopeFlag, "scope", "all", "which tasks to show (all|active)")
	c.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return c
}

func printMatrix(cmd *cobra.Command, scope domain.Scope, g matrix.Grouping) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderHeader(scope))
	fmt.Fprintln(out, renderGrouping(g))
}

func requestContext(parent context.Context, s settings) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	timeout := s.RequestTimeout
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
