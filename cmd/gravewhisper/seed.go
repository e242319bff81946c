package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gravewhisper/gravewhisper/pkg/api"
	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	seedUsername string
	seedPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the admin account and default categories",
	Long: `Upsert the admin account from auth.seed_admin (or the flags) and every
default category. Running it again resets the admin password and restores
the default category names and order.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedUsername, "username", "",
		"admin username (overrides auth.seed_admin.username)")
	seedCmd.Flags().StringVar(&seedPassword, "password", "",
		"admin password (overrides auth.seed_admin.password)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	username := strings.TrimSpace(cfg.Auth.SeedAdmin.Username)
	if seedUsername != "" {
		username = strings.TrimSpace(seedUsername)
	}

	if username == "" {
		username = "admin"
	}

	password := cfg.Auth.SeedAdmin.Password
	if seedPassword != "" {
		password = seedPassword
	}

	if password == "" {
		return fmt.Errorf("admin password is required " +
			"(set auth.seed_admin.password or use --password)")
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	hash, err := api.HashPassword(password)
	if err != nil {
		return err
	}

	admin, err := st.UpsertAdmin(ctx, username, hash)
	if err != nil {
		return err
	}

	flow := workflow.New(log, st)
	if err := flow.SeedDefaultCategories(ctx, workflow.Actor{AdminUserID: admin.ID}); err != nil {
		return fmt.Errorf("seeding categories: %w", err)
	}

	log.WithFields(logrus.Fields{
		"username":   admin.Username,
		"categories": len(workflow.DefaultCategories),
	}).Info("Seed complete")

	return nil
}
