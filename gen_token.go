package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"

	"prism-gtd/config"
)

type tokenOptions struct {
	count  int
	prefix string
	start  int
	output string
	ttl    time.Duration
}

func genTokenCmd(configFile *string) *cobra.Command {
	var opts tokenOptions
	cmd := &cobra.Command{
		Use:   "gen-token [user-id]",
		Short: "Print an HS256 token accepted by a server running in AUTH0_TEST_MODE",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if !cfg.Auth.TestMode {
				return errors.New("gen-token requires AUTH0_TEST_MODE")
			}
			if len(args) > 0 && opts.count > 1 {
				return errors.New("explicit user ID cannot be provided when generating multiple tokens")
			}
			tokens, err := generateTokens(cfg.Auth, opts, args)
			if err != nil {
				return err
			}
			if opts.output != "" {
				if err := writeTokens(opts.output, tokens); err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.count, "count", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "test-user", "prefix for generated user IDs when count > 1")
	cmd.Flags().IntVar(&opts.start, "start", 1, "starting index for generated user IDs when count > 1")
	cmd.Flags().StringVar(&opts.output, "output", "", "file to write generated tokens as a JSON array")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func generateTokens(auth config.Auth, opts tokenOptions, args []string) ([]string, error) {
	if opts.count < 1 {
		return nil, errors.New("count must be at least 1")
	}
	if opts.start < 1 {
		return nil, errors.New("start index must be at least 1")
	}
	now := time.Now()
	tokens := make([]string, opts.count)
	for i := range tokens {
		userID := opts.prefix
		switch {
		case len(args) > 0:
			userID = args[0]
		case opts.count > 1:
			userID = fmt.Sprintf("%s-%d", opts.prefix, opts.start+i)
		}
		claims := jwt.MapClaims{
			"sub": userID,
			"iat": now.Unix(),
			"exp": now.Add(opts.ttl).Unix(),
		}
		if auth.Audience != "" {
			claims["aud"] = auth.Audience
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(auth.TestSecret))
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
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
