package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/beacon/internal/auth"
)

// tokenEnv provides the environment for the token command.
type tokenEnv struct {
	user   string
	secret string
	ttl    time.Duration
}

// newTokenCmd returns the definition of the token command.
func newTokenCmd() *cobra.Command {
	env := &tokenEnv{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user when the gateway runs with AUTH_MODE=jwt.",
		RunE:  env.run,
	}

	cmd.Flags().StringVar(&env.user, "user", "", "User name to put in the token subject")
	cmd.Flags().StringVar(&env.secret, "secret", "", "HS256 signing secret (defaults to AUTH_JWT_SECRET)")
	cmd.Flags().DurationVar(&env.ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func (e *tokenEnv) run(cmd *cobra.Command, args []string) error {
	secret := e.secret
	if secret == "" {
		secret = os.Getenv("AUTH_JWT_SECRET")
	}
	if secret == "" {
		return errors.New("no signing secret: pass --secret or set AUTH_JWT_SECRET")
	}
	if e.ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	token, err := auth.IssueToken(secret, e.user, e.ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
