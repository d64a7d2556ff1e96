package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <username> <password>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest, err := newRESTClient(cfg, nil)
		if err != nil {
			return err
		}

		user, err := rest.Register(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s as user %s\n",
			senderStyle.Render(user.Username), idStyle.Render(fmt.Sprint(user.ID)))
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "Log in and print an access token",
	Long: `Log in and print an access token on stdout, ready for
  export CHAT_TOKEN=$(chatcli login alice s3cretpass)`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest, err := newRESTClient(cfg, nil)
		if err != nil {
			return err
		}

		tokens, err := rest.Login(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if tokens.User != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "logged in as %s (user %d), token valid for %ds\n",
				senderStyle.Render(tokens.User.Username), tokens.User.ID, tokens.ExpiresIn)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tokens.AccessToken)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List registered users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := identityFromToken(token)
		if err != nil {
			return err
		}
		rest, err := newRESTClient(cfg, &id)
		if err != nil {
			return err
		}

		users, err := rest.ListUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		for _, u := range users {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", idStyle.Render(fmt.Sprintf("%6d", u.ID)), u.Username)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd, loginCmd, usersCmd)
}
