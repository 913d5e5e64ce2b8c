package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull issues from GitLab once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.HasGitLabConfig() {
			return errors.New("GITLAB_TOKEN and GITLAB_PROJECT_ID must be set")
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		result, err := a.issues.SyncFromGitLab(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced %d issues (%d changed)\n", result.Fetched, result.Changed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
