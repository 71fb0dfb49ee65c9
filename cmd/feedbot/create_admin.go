package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feedbot/internal/config"
	"feedbot/internal/database"
	"feedbot/internal/services"
	"feedbot/internal/util"
)

// createAdminCmd bootstraps the first admin, since only admins can add
// admins from the chat.
var createAdminCmd = &cobra.Command{
	Use:   "create-admin <email>",
	Short: "Create an admin contact, or promote an existing contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreateAdmin,
}

func runCreateAdmin(cmd *cobra.Command, args []string) error {
	identity := util.NormalizeIdentifier(args[0])
	if !util.IsValidEmail(identity) {
		return fmt.Errorf("%q is not a valid email address", args[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.Open(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn("Error closing database", zap.Error(err))
		}
	}()

	directory := services.NewDirectoryService(db, util.NewKeyLock(), logger)
	if err := directory.UpsertContact(cmd.Context(), identity, true); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s is now an admin\n", identity)
	return nil
}
