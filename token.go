package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"

	"taskboard-api/config"
)

type tokenFlags struct {
	count  int
	prefix string
	start  int
	output string
	ttl    time.Duration
}

func newTokenCmd() *cobra.Command {
	var f tokenFlags
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Sign HS256 tokens accepted in local auth mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.LocalAuth() || cfg.Auth.SharedSecret == "" {
				return errors.New("tokens can only be signed with LOCAL_AUTH_MODE=hs256 and a shared secret")
			}
			if f.count < 1 {
				return errors.New("count must be at least 1")
			}
			if f.start < 1 {
				return errors.New("start index must be at least 1")
			}
			if len(args) > 0 && f.count > 1 {
				return errors.New("explicit user ID cannot be provided when generating multiple tokens")
			}

			tokens, err := signTokens(cfg, f, args, time.Now())
			if err != nil {
				return err
			}
			if f.output != "" {
				if err := writeTokens(f.output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&f.count, "count", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&f.prefix, "prefix", "local-user", "prefix for generated user IDs when count > 1")
	cmd.Flags().IntVar(&f.start, "start", 1, "starting index for generated user IDs when count > 1")
	cmd.Flags().StringVar(&f.output, "output", "", "file to write generated tokens as a JSON array")
	cmd.Flags().DurationVar(&f.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func signTokens(cfg *config.Config, f tokenFlags, args []string, now time.Time) ([]string, error) {
	tokens := make([]string, f.count)
	for i := range tokens {
		var userID string
		switch {
		case len(args) > 0:
			userID = args[0]
		case f.count == 1:
			userID = f.prefix
		default:
			userID = fmt.Sprintf("%s-%d", f.prefix, f.start+i)
		}

		claims := jwt.MapClaims{
			"sub": userID,
			"iat": now.Unix(),
			"exp": now.Add(f.ttl).Unix(),
		}
		if cfg.Auth.Audience != "" {
			claims["aud"] = cfg.Auth.Audience
		}
		if iss := cfg.Issuer(); iss != "" {
			claims["iss"] = iss
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Auth.SharedSecret))
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
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
