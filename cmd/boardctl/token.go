package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"taskboard/api"
	"taskboard/config"
)

func tokenCmd(a *app) *cobra.Command {
	var (
		secret   string
		audience string
		count    int
		prefix   string
		start    int
		output   string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Sign bearer tokens for the local shared-secret auth mode",
		Long: `Sign HS256 tokens accepted by a server running with LOCAL_AUTH_MODE.
The secret and audience default to LOCAL_AUTH_SHARED_SECRET and AUTH0_AUDIENCE.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}
			if start < 1 {
				return fmt.Errorf("start index must be at least 1")
			}
			if len(args) > 0 && count > 1 {
				return fmt.Errorf("explicit user ID cannot be provided when generating multiple tokens")
			}
			if secret == "" || !cmd.Flags().Changed("audience") {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if secret == "" {
					secret = cfg.LocalAuthSecret
				}
				if !cmd.Flags().Changed("audience") {
					audience = cfg.Auth0Audience
				}
			}

			tokens := make([]string, count)
			for i := range tokens {
				userID := prefix
				switch {
				case len(args) > 0:
					userID = args[0]
				case count > 1:
					userID = fmt.Sprintf("%s-%d", prefix, start+i)
				}
				tok, err := api.SignLocalToken([]byte(secret), userID, audience, ttl)
				if err != nil {
					return err
				}
				tokens[i] = tok
			}

			if output != "" {
				if err := writeTokens(output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprintln(a.out, tokens[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret (defaults to LOCAL_AUTH_SHARED_SECRET)")
	cmd.Flags().StringVar(&audience, "audience", "", "Audience claim (defaults to AUTH0_AUDIENCE)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of tokens to generate")
	cmd.Flags().StringVar(&prefix, "prefix", "local", "User ID, or prefix for generated IDs when count > 1")
	cmd.Flags().IntVar(&start, "start", 1, "Starting index for generated user IDs")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write all tokens to this file as a JSON array")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
