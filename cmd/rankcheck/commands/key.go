package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/rankwatch/rankwatch/internal/auth"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/repository"
)

type databaseEnv struct {
	URL string `env:"DATABASE_URL,required"`
}

type issuedKey struct {
	UserID    string   `json:"user_id"`
	Email     string   `json:"email"`
	KeyID     string   `json:"key_id"`
	Key       string   `json:"key"`
	KeyPrefix string   `json:"key_prefix"`
	Scopes    []string `json:"scopes"`
	Tier      string   `json:"rate_limit_tier"`
}

func newKeyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manages API keys directly in the database.",
	}
	cmd.AddCommand(newKeyCreateCmd(opts))
	return cmd
}

func newKeyCreateCmd(opts *options) *cobra.Command {
	var (
		userID string
		email  string
		name   string
		scopes string
		tier   string
		keyEnv string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Creates an account if needed and issues it an API key. Used to bootstrap the first admin key.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			granted, err := parseScopes(scopes)
			if err != nil {
				return err
			}
			if !model.IsValidTier(tier) {
				return fmt.Errorf("unknown rate limit tier %q", tier)
			}

			var db databaseEnv
			if err := env.Parse(&db); err != nil {
				return fmt.Errorf("read database settings: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			repo, err := repository.New(ctx, db.URL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer repo.Close()

			owner, err := repo.EnsureUser(ctx, &model.User{ID: userID, Email: email})
			if err != nil {
				return fmt.Errorf("resolve account: %w", err)
			}

			issued, err := auth.IssueKey(keyEnv)
			if err != nil {
				return fmt.Errorf("issue key: %w", err)
			}
			key := &model.APIKey{
				ID:            ulid.Make().String(),
				UserID:        owner.ID,
				KeyHash:       issued.Hash,
				KeyPrefix:     issued.Prefix,
				Scopes:        granted,
				RateLimitTier: tier,
				Name:          name,
				CreatedAt:     time.Now().UTC(),
			}
			if err := repo.CreateAPIKey(ctx, key); err != nil {
				return fmt.Errorf("store key: %w", err)
			}

			return renderIssued(cmd, opts, issuedKey{
				UserID:    owner.ID,
				Email:     owner.Email,
				KeyID:     key.ID,
				Key:       issued.Plaintext,
				KeyPrefix: key.KeyPrefix,
				Scopes:    granted,
				Tier:      tier,
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "system", "Account ID used when the email is not registered yet.")
	cmd.Flags().StringVar(&email, "email", "system@rankwatch.local", "Account email.")
	cmd.Flags().StringVar(&name, "name", "bootstrap", "Key name.")
	cmd.Flags().StringVar(&scopes, "scopes", model.ScopeAdmin, "Comma-separated scopes (read, write, webhook, admin).")
	cmd.Flags().StringVar(&tier, "tier", model.TierUnlimited, "Rate limit tier.")
	cmd.Flags().StringVar(&keyEnv, "env", auth.EnvLive, "Key environment (live or test).")
	return cmd
}

func renderIssued(cmd *cobra.Command, opts *options, k issuedKey) error {
	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(k)
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"account", k.UserID + " <" + k.Email + ">"},
		{"key id", k.KeyID},
		{"prefix", k.KeyPrefix},
		{"scopes", strings.Join(k.Scopes, ",")},
		{"tier", k.Tier},
	})
	t.Render()
	fmt.Fprintf(out, "\n%s\n\nThe key is shown once. Store it now.\n", k.Key)
	return nil
}

// parseScopes defaults to admin when nothing is given.
func parseScopes(input string) ([]string, error) {
	scopes, err := model.CleanScopes(strings.Split(input, ","))
	if err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	if len(scopes) == 0 {
		return []string{model.ScopeAdmin}, nil
	}
	return scopes, nil
}
