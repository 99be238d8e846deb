package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"prism-plan/auth"
)

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	c := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a token for services running with AUTH0_TEST_MODE=1",
		Long: `token signs an HS256 token with TEST_JWT_SECRET. Services started with
AUTH0_TEST_MODE=1 and the same secret accept it.

  export PRISM_TOKEN=$(prism token alice)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("TEST_JWT_SECRET")
			if secret == "" {
				return errors.New("TEST_JWT_SECRET must be set")
			}
			tok, err := auth.SignTestToken([]byte(secret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	c.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return c
}
