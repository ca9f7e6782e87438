package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"qubic-netstats/internal/netstats"
)

var updateStrict bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Force one evaluation cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().Update(cmd.Context())
		if err != nil {
			return err
		}
		writeResult(cmd.OutOrStdout(), result)
		if updateStrict {
			return result.Err()
		}
		return nil
	},
}

func init() {
	updateCmd.Flags().BoolVar(&updateStrict, "strict", false, "Exit non-zero when the cycle skips or rejects the sample")
}

func writeResult(out io.Writer, result netstats.Result) {
	fmt.Fprintf(out, "outcome: %s\n", result.Outcome)
	if result.Reason != "" {
		fmt.Fprintf(out, "reason: %s\n", result.Reason)
	}
	if result.Sample != nil {
		fmt.Fprintf(out, "sample: %s (period %s)\n", result.Sample.Timestamp.Format(time.RFC3339), result.Sample.PeriodStart.Format(time.RFC3339))
	}
}
