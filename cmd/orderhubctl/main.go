package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"order-hub/internal/auth"
	"order-hub/internal/config"
	"order-hub/internal/logging"
	"order-hub/internal/orders"
	"order-hub/internal/registry"
	"order-hub/internal/repo"
	"order-hub/migrations"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "orderhubctl",
		Short:        "Operator tooling for order-hub",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(seedItemCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openRepository(ctx context.Context) (repo.Repository, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.Production())
	repository, err := repo.Open(ctx, repo.OpenConfig{
		Driver:      cfg.DBDriver,
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.DatabaseSchema,
		SQLitePath:  cfg.SQLitePath,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open repository: %w", err)
	}
	return repository, cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repository, cfg, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer repository.Close()
			if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var tenantID, userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a dashboard bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
			tok, err := tokens.Issue(auth.Identity{TenantID: tenantID, UserID: userID, Role: role})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&role, "role", "staff", "user role")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func seedCmd() *cobra.Command {
	var slug, name, phone, phoneNumberID string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repository, _, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer repository.Close()

			tenant := repo.Tenant{
				Slug:     strings.ToLower(strings.TrimSpace(slug)),
				Name:     strings.TrimSpace(name),
				Phone:    registry.NormalizePhone(phone),
				IsActive: true,
			}
			if phoneNumberID != "" {
				tenant.WAPhoneNumberID = &phoneNumberID
			}
			created, err := repository.CreateTenant(ctx, tenant)
			if err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s created with id %s\n", created.Slug, created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "public storefront slug")
	cmd.Flags().StringVar(&name, "name", "", "restaurant name")
	cmd.Flags().StringVar(&phone, "phone", "", "public WhatsApp number for deep links")
	cmd.Flags().StringVar(&phoneNumberID, "phone-number-id", "", "Cloud API phone number id routed to this tenant")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func seedItemCmd() *cobra.Command {
	var slug, name, price string
	cmd := &cobra.Command{
		Use:   "seed-item",
		Short: "Add a menu item to a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := orders.ParseAmount(price)
			if err != nil {
				return err
			}
			if amount <= 0 {
				return fmt.Errorf("price must be positive")
			}

			ctx := cmd.Context()
			repository, _, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer repository.Close()

			tenant, err := repository.GetTenantBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
			if err != nil {
				return fmt.Errorf("find tenant: %w", err)
			}
			item, err := repository.CreateMenuItem(ctx, repo.MenuItem{
				TenantID:    tenant.ID,
				Name:        strings.TrimSpace(name),
				Price:       int64(amount),
				IsActive:    true,
				IsAvailable: true,
			})
			if err != nil {
				return fmt.Errorf("create menu item: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "menu item %q (%s) created with id %s\n", item.Name, amount, item.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "tenant", "", "tenant slug")
	cmd.Flags().StringVar(&name, "name", "", "item name")
	cmd.Flags().StringVar(&price, "price", "", "price, e.g. 25.50")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}
