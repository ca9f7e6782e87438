package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/snapshot"
)

// Simulate validates readings against stored history without writing. With no
// readings given, the live snapshot is fetched and checked instead.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	c, err := a.assemble(ctx, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	readings, err := a.simulationReadings(ctx, c.builder, opts)
	if err != nil {
		return err
	}

	validation, err := c.engine.Check(ctx, readings)
	if err != nil {
		return err
	}
	return writeValidation(os.Stdout, readings, validation)
}

func (a *App) simulationReadings(ctx context.Context, builder *snapshot.Builder, opts SimulateOptions) (netstats.Readings, error) {
	if opts.Readings != nil {
		return *opts.Readings, nil
	}
	snap, err := builder.Build(ctx)
	if err != nil {
		return netstats.Readings{}, err
	}
	in := snap.EvaluationInput()
	if in.Idle {
		a.Logger.Warn().Msg("network reports idle; a real cycle would skip this snapshot")
	}
	return in.Readings, nil
}

func writeValidation(out io.Writer, readings netstats.Readings, validation map[string]bool) error {
	values := readings.Map()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	allOK := true
	for _, name := range names {
		status := "ok"
		if !validation[name] {
			status = "REJECTED"
			allOK = false
		}
		if _, err := fmt.Fprintf(out, "%-10s %-18s %s\n", name, formatHashrate(values[name]), status); err != nil {
			return err
		}
	}
	verdict := "sample would be committed"
	if !allOK {
		verdict = "sample would be rejected"
	}
	_, err := fmt.Fprintln(out, verdict)
	return err
}
