package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"qubic-netstats/internal/fetcher"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain a Qubic API bearer token with the configured credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := getApp().Login(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token: %s\n", fetcher.Preview(token))
		return nil
	},
}
