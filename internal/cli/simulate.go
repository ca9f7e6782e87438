package cli

import (
	"github.com/spf13/cobra"

	"qubic-netstats/internal/app"
	"qubic-netstats/internal/netstats"
)

var simulateReadings netstats.Readings

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Validate hashrate readings against stored history without writing",
	Long: "Checks the given readings (or, when none are given, the live snapshot) " +
		"against the most recent samples and reports which would be rejected.",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{}
		flags := cmd.Flags()
		if flags.Changed("qli") || flags.Changed("apool") || flags.Changed("solutions") || flags.Changed("minerlab") {
			readings := simulateReadings
			opts.Readings = &readings
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateReadings.QLI, "qli", 0, "QLI estimated hashrate")
	simulateCmd.Flags().Float64Var(&simulateReadings.Apool, "apool", 0, "Apool corrected hashrate")
	simulateCmd.Flags().Float64Var(&simulateReadings.Solutions, "solutions", 0, "Solutions corrected hashrate")
	simulateCmd.Flags().Float64Var(&simulateReadings.Minerlab, "minerlab", 0, "Minerlab corrected hashrate")
}
