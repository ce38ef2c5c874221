package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"atendigram/config"
	"atendigram/models"
	"atendigram/utils"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newTokenCmd() *cobra.Command {
	var (
		create bool
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <account-id|email>",
		Short: "Print an API token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := bootstrap(); err != nil {
				return err
			}
			cfg := config.AppConfig

			account, err := findAccount(config.DB, args[0], create)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.JWTTTL
			}
			token, err := utils.GenerateToken(account.ID, cfg.JWTSecret, ttl)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "Create the account when an unknown email is given.")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_TTL).")
	return cmd
}

func findAccount(db *gorm.DB, ref string, create bool) (*models.Account, error) {
	var account models.Account
	err := db.Where("id = ? OR email = ?", ref, ref).Take(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if create && strings.Contains(ref, "@") {
		return models.EnsureAccount(db, ref)
	}
	return nil, fmt.Errorf("account %q not found", ref)
}
