package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refundops/internal/app"
	"github.com/punchamoorthee/refundops/internal/auth"
	"github.com/punchamoorthee/refundops/internal/config"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/logger"
	"github.com/punchamoorthee/refundops/internal/models"
	"github.com/punchamoorthee/refundops/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "refundctl",
		Short:        "Operator tooling for the refund service",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(redriveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != "postgres" {
				return errors.New("migrate requires STORE_DRIVER=postgres")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			s, err := store.NewStore(ctx, cfg.DBSource)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer s.Close()
			if err := s.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Long: `Mint a signed bearer token using JWT_SECRET and JWT_ISSUER.

Examples:
  refundctl token --user 0b7c... --role tasker
  refundctl token --user 5f1e... --role admin --ttl 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			switch domain.Role(role) {
			case domain.RoleTasker, domain.RoleClient, domain.RoleBoth, domain.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			cfg, err := config.LoadAuth()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer)
			if err != nil {
				return err
			}
			raw, err := tokens.Issue(id, domain.Role(role), ttl)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(models.TokenResponse{Token: raw, UserID: id.String(), Role: role, ExpiresIn: ttl.String()})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (uuid)")
	cmd.Flags().StringVarP(&role, "role", "r", string(domain.RoleTasker), "tasker, client, both or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func redriveCmd() *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   "redrive",
		Short: "Re-run dead-lettered notifications and emails once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Options{Level: cfg.LogLevel, Env: cfg.Env})
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			before, err := a.DeadLetter.Len(ctx)
			if err != nil {
				return fmt.Errorf("count dead letters: %w", err)
			}
			n, err := a.Dispatcher.Redrive(ctx, max)
			if err != nil {
				return err
			}
			a.Dispatcher.Wait()

			after, _ := a.DeadLetter.Len(ctx)
			log.Info("redrive finished",
				zap.Int64("before", before),
				zap.Int("redriven", n),
				zap.Int64("remaining", after),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "redriven %d of %d, %d remaining\n", n, before, after)
			return nil
		},
	}
	cmd.Flags().IntVar(&max, "max", 1000, "maximum dead letters to redrive")
	return cmd
}
