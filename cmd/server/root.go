package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/worship-room/internal/config"
	"github.com/worship-room/internal/server"
)

func root(defaultPath string) *cobra.Command {
	var (
		configPath string
		cfg        *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           "worship-room",
		Short:         "shared playback queue for worship rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultPath, "config file or directory holding config.yaml")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "server",
			Short: "start http server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return server.RunHttp(cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "create or update the database schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return server.Migrate(cfg)
			},
		},
		exportHistory(&cfg),
	)
	return rootCmd
}

func exportHistory(cfg **config.Config) *cobra.Command {
	var roomID string
	cmd := &cobra.Command{
		Use:   "export-history",
		Short: "upload a room's play history to object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(roomID)
			if err != nil {
				return fmt.Errorf("invalid --room: %w", err)
			}
			object, err := server.ExportHistory(*cfg, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), object)
			return nil
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "room id")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}
