package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/AdamLaszab/zadanie-skuska/internal/auth"
	"github.com/AdamLaszab/zadanie-skuska/internal/config"
	"github.com/AdamLaszab/zadanie-skuska/internal/tui/tokenmgr"
)

func tokenCmd(g *globals, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create API credentials",
	}

	var (
		subject string
		scopes  []string
		ttl     time.Duration
		pick    bool
	)
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Sign an HS256 JWT with api.auth.jwt.secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.API.Auth.JWT.Secret == "" {
				return errors.New("api.auth.jwt.secret is not set")
			}
			if pick {
				if scopes, err = tokenmgr.Run(scopes...); err != nil {
					return err
				}
			}
			if len(scopes) == 0 {
				return errors.New("at least one --scope is required")
			}
			tok, err := auth.SignToken(auth.JWTConfig{
				Secret: cfg.API.Auth.JWT.Secret,
				Issuer: cfg.API.Auth.JWT.Issuer,
			}, subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	sign.Flags().StringVar(&subject, "subject", "", "Token subject, recorded as principal:<subject>")
	sign.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to grant (repeatable): pdf:rw, logs:ro, logs:rw, *")
	sign.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	sign.Flags().BoolVar(&pick, "pick", false, "Choose scopes interactively")
	_ = sign.MarkFlagRequired("subject")

	hash := &cobra.Command{
		Use:   "hash",
		Short: "bcrypt a static token for token_bcrypt (reads the token from the terminal or stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := promptSecret(cmd.InOrStdin(), "Token")
			if err != nil {
				return err
			}
			if secret == "" {
				return errors.New("empty token")
			}
			h, err := auth.HashToken(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}

	var newSubject string
	var newScopes []string
	create := &cobra.Command{
		Use:   "new",
		Short: "Generate a random static token and its config entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := generateSecureToken(32)
			if err != nil {
				return err
			}
			h, err := auth.HashToken(secret)
			if err != nil {
				return err
			}
			entry, err := yaml.Marshal([]config.APIToken{{
				TokenBcrypt: h,
				Subject:     newSubject,
				Scopes:      newScopes,
			}})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", ui.warn("token (shown once):"), secret)
			fmt.Fprintf(out, "%s\n%s", ui.dim("# add under api.auth.tokens:"), entry)
			return nil
		},
	}
	create.Flags().StringVar(&newSubject, "subject", "", "Token subject")
	create.Flags().StringSliceVar(&newScopes, "scope", []string{auth.ScopePDF}, "Scope to grant (repeatable)")
	_ = create.MarkFlagRequired("subject")

	cmd.AddCommand(sign, hash, create)
	return cmd
}

func generateSecureToken(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// promptSecret reads a line from in, without echo when in is a terminal.
func promptSecret(in io.Reader, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}
