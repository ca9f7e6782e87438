package cli

import (
	"github.com/spf13/cobra"
)

var averagesCmd = &cobra.Command{
	Use:   "averages",
	Short: "Display filtered hashrate averages for the current period",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Averages(cmd.Context())
	},
}
