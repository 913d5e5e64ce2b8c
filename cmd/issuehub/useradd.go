package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	userName     string
	userPassword string
)

var useraddCmd = &cobra.Command{
	Use:   "useradd",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		user, err := a.auth.Register(cmd.Context(), userName, userPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created user %s\n", user.Username)
		return nil
	},
}

func init() {
	useraddCmd.Flags().StringVarP(&userName, "username", "u", "", "username")
	useraddCmd.Flags().StringVarP(&userPassword, "password", "p", "", "password")
	_ = useraddCmd.MarkFlagRequired("username")
	_ = useraddCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(useraddCmd)
}
