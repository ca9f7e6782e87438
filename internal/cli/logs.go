package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"qubic-netstats/internal/server"
)

var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Display recent event log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Logs(cmd.Context(), logsLimit)
	},
}

func init() {
	logsCmd.Flags().IntVar(&logsLimit, "limit", server.DefaultLogLimit, "Number of entries to display")
}
