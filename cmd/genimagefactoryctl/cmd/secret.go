package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var secretAccount string

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage provider API keys stored in the secrets vault",
	Long: `secret stores and retrieves the credentials Processor stages need
(openai, piapi, runware, removeBg), through the same tiered vault the
desktop UI uses: OS keychain first, AES-GCM encrypted catalog row second,
plaintext catalog row last.`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <service> <value>",
	Short: "Store a credential",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, cleanup, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.Vault.Set(ctx, args[0], secretAccount, args[1]); err != nil {
			return &ExitError{Code: 2, Err: fmt.Errorf("set secret: %w", err)}
		}
		cmd.Printf("stored %s/%s\n", args[0], secretAccount)
		return nil
	},
}

var secretStatusCmd = &cobra.Command{
	Use:   "status <service>",
	Short: "Report which storage tier holds a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, cleanup, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		_, level, found, err := a.Vault.Get(ctx, args[0], secretAccount)
		if err != nil {
			return &ExitError{Code: 2, Err: fmt.Errorf("get secret: %w", err)}
		}
		if !found {
			cmd.Printf("%s/%s: not set\n", args[0], secretAccount)
			return nil
		}
		cmd.Printf("%s/%s: %s\n", args[0], secretAccount, level)
		return nil
	},
}

func init() {
	secretCmd.PersistentFlags().StringVar(&secretAccount, "account", "default", "named account within the service (most services only have one)")
	secretCmd.AddCommand(secretSetCmd, secretStatusCmd)
}
