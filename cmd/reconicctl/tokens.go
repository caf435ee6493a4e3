package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/config"
	"github.com/reconic/backend/crypto"
	"github.com/reconic/backend/db"
)

// accountTokens is one linked channel's stored credentials.
type accountTokens struct {
	UserID       string
	ChannelID    string
	AccessToken  string
	RefreshToken string
}

// sealAccount encrypts whichever of the row's tokens are still plaintext.
// changed is false when both tokens are already sealed or empty.
func sealAccount(cipher *crypto.TokenCipher, row accountTokens) (access, refresh string, changed bool, err error) {
	access, refresh = row.AccessToken, row.RefreshToken
	if row.AccessToken != "" && !crypto.IsSealed(row.AccessToken) {
		if access, err = cipher.SealFor(row.UserID, row.AccessToken); err != nil {
			return "", "", false, fmt.Errorf("encrypt access token: %w", err)
		}
		changed = true
	}
	if row.RefreshToken != "" && !crypto.IsSealed(row.RefreshToken) {
		if refresh, err = cipher.SealFor(row.UserID, row.RefreshToken); err != nil {
			return "", "", false, fmt.Errorf("encrypt refresh token: %w", err)
		}
		changed = true
	}
	return access, refresh, changed, nil
}

// encryptResult summarizes an encrypt-tokens run.
type encryptResult struct {
	Scanned   int
	Encrypted int
	Failed    int
}

// encryptTokens seals plaintext tokens left in youtube_accounts, optionally for a single user.
func encryptTokens(ctx context.Context, database *sql.DB, cipher *crypto.TokenCipher, dryRun bool, userFilter string) (encryptResult, error) {
	var res encryptResult
	query := `SELECT user_id, channel_id, access_token, refresh_token FROM youtube_accounts WHERE encryption_version = 0`
	var args []any
	if userFilter != "" {
		query += " AND user_id = $1"
		args = append(args, userFilter)
	}
	query += " ORDER BY user_id, channel_id"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return res, fmt.Errorf("query plaintext tokens: %w", err)
	}
	var pending []accountTokens
	for rows.Next() {
		var r accountTokens
		if err := rows.Scan(&r.UserID, &r.ChannelID, &r.AccessToken, &r.RefreshToken); err != nil {
			rows.Close()
			return res, fmt.Errorf("scan account row: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return res, fmt.Errorf("iterate account rows: %w", err)
	}
	rows.Close()

	res.Scanned = len(pending)
	for _, row := range pending {
		logger := slog.With(slog.String("user_id", row.UserID), slog.String("channel_id", row.ChannelID))
		access, refresh, changed, err := sealAccount(cipher, row)
		if err != nil {
			logger.Error("failed to encrypt tokens", slog.Any("err", err))
			res.Failed++
			continue
		}
		if dryRun {
			logger.Info("would encrypt tokens (dry-run)", slog.Bool("plaintext", changed))
			res.Encrypted++
			continue
		}
		// Rows whose tokens are already sealed only need their version bumped.
		result, err := database.ExecContext(ctx,
			`UPDATE youtube_accounts
			 SET access_token = $1, refresh_token = $2, encryption_version = 1, updated_at = NOW()
			 WHERE user_id = $3 AND channel_id = $4 AND encryption_version = 0`,
			access, refresh, row.UserID, row.ChannelID)
		if err != nil {
			logger.Error("failed to update tokens", slog.Any("err", err))
			res.Failed++
			continue
		}
		if n, err := result.RowsAffected(); err == nil && n != 1 {
			logger.Warn("account changed concurrently, skipped", slog.Int64("rows", n))
			continue
		}
		logger.Info("encrypted tokens")
		res.Encrypted++
	}

	slog.Info("encrypt-tokens summary",
		slog.Int("scanned", res.Scanned),
		slog.Int("encrypted", res.Encrypted),
		slog.Int("failed", res.Failed),
		slog.Bool("dry_run", dryRun))
	if res.Failed > 0 {
		return res, fmt.Errorf("encryption completed with %d errors", res.Failed)
	}
	return res, nil
}

func newEncryptTokensCmd() *cobra.Command {
	var (
		dryRun bool
		user   string
	)
	cmd := &cobra.Command{
		Use:   "encrypt-tokens",
		Short: "Encrypt OAuth tokens stored in plaintext before ENCRYPTION_KEY was set",
		Example: `  export ENCRYPTION_KEY="$(openssl rand -base64 32)"
  reconicctl encrypt-tokens --dry-run
  reconicctl encrypt-tokens --user u_123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cipher, err := crypto.NewTokenCipher(cfg.EncryptionKey)
			if err != nil {
				return fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
			}
			if !cipher.Enabled() {
				return errors.New("ENCRYPTION_KEY is required to encrypt tokens")
			}
			database, err := db.Connect(cmd.Context(), cfg.DBDsn)
			if err != nil {
				return err
			}
			defer database.Close()

			res, err := encryptTokens(cmd.Context(), database, cipher, dryRun, user)
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d encrypted=%d failed=%d\n", res.Scanned, res.Encrypted, res.Failed)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be encrypted without making changes")
	cmd.Flags().StringVar(&user, "user", "", "Only encrypt tokens for this user id")
	return cmd
}

func newMintTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint-token USER_ID",
		Short: "Print a session bearer token for a user (local testing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			if userID == "" {
				return errors.New("user id is empty")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateSessionReady(); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.SessionTTL
			}
			signer, err := auth.NewSigner(cfg.SessionSecret)
			if err != nil {
				return err
			}
			tok, err := signer.Mint(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default SESSION_TTL)")
	return cmd
}
