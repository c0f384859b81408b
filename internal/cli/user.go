package cli

import (
	"fmt"

	"github.com/lachlan2k/gatehouse/internal/auth"
	"github.com/lachlan2k/gatehouse/internal/password"
	"github.com/lachlan2k/gatehouse/internal/session"
	"github.com/lachlan2k/gatehouse/internal/users"
	"github.com/spf13/cobra"
)

func userCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users in the configured store",
	}

	cmd.AddCommand(userAddCmd(opts))
	return cmd
}

func userAddCmd(opts *rootOptions) *cobra.Command {
	var email, secret, role string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		Example: `  gatehouse user add --email alice@example.com --password 'correct horse battery'
  gatehouse user add --email bob@example.com --password hunter2hunter2 --role admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedRole, err := users.ParseRole(role)
			if err != nil {
				return err
			}

			conf, err := opts.load()
			if err != nil {
				return err
			}

			store, err := users.Open(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer store.Close()

			hasher, err := password.New(conf)
			if err != nil {
				return err
			}

			codec, err := session.NewCodec(conf.Auth)
			if err != nil {
				return err
			}

			service, err := auth.NewService(store, hasher, codec, newLogger("user", cmd.ErrOrStderr()), nil)
			if err != nil {
				return err
			}

			user, err := service.CreateUser(cmd.Context(), email, secret, parsedRole)
			if err != nil {
				return fmt.Errorf("couldn't create user: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s user %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address to sign in with")
	cmd.Flags().StringVar(&secret, "password", "", "Password for the new user")
	cmd.Flags().StringVar(&role, "role", string(users.RoleUser), "Role: user or admin")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")

	return cmd
}
