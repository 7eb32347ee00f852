package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/nodeboot/pkg/app"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the configuration this node would boot with",
	Long: `Run the bootstrap and persistent data resolution without starting a role
manager, then print the resulting user data as YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := appOptions(cmd)
		if err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		defer a.Close()

		out, err := yaml.Marshal(a.Config.UserData())
		if err != nil {
			return fmt.Errorf("failed to marshal user data: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "# cloud: %s, persistent data: %s\n", a.Cloud.Type(), a.PDSource)
		fmt.Fprint(cmd.OutOrStdout(), string(out))

		for _, m := range a.Messages.List() {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", m.Level, m.Text)
		}
		return nil
	},
}
