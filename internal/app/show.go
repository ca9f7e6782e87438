package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hako/durafmt"

	"qubic-netstats/internal/eventlog"
	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/storage"
)

// Show prints the most recent samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	samples, err := store.RecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeSamples(os.Stdout, samples, time.Now())
}

func writeSamples(out io.Writer, samples []storage.Sample, now time.Time) error {
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAge\tQLI\tApool\tSolutions\tMinerlab\tIdle")
	for _, s := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			s.Timestamp.UTC().Format(time.RFC3339),
			durafmt.Parse(now.Sub(s.Timestamp).Round(time.Minute)).LimitFirstN(2).String(),
			formatHashrate(s.QLIHashrate),
			formatHashrate(s.ApoolHashrate),
			formatHashrate(s.SolutionsHashrate),
			formatHashrate(s.MinerlabHashrate),
			s.WasIdle,
		)
	}
	return writer.Flush()
}

// Logs prints recent event log entries, newest first.
func (a *App) Logs(ctx context.Context, limit int) error {
	opts, err := a.engineOptions()
	if err != nil {
		return err
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := eventlog.New(store, opts.Anchor, nil, a.Logger).Recent(ctx, limit)
	if err != nil {
		return err
	}
	return writeLogs(os.Stdout, entries)
}

func writeLogs(out io.Writer, entries []storage.LogEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no log entries found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tType\tMessage\tData")
	for _, e := range entries {
		data := ""
		if len(e.Data) > 0 {
			encoded, err := sonic.Marshal(e.Data)
			if err == nil {
				data = string(encoded)
			}
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339),
			e.EventType,
			sanitizeInline(e.Message),
			data,
		)
	}
	return writer.Flush()
}

// Averages prints the filtered averages of the current period.
func (a *App) Averages(ctx context.Context) error {
	opts, err := a.engineOptions()
	if err != nil {
		return err
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	avg, err := netstats.NewAggregator(store, opts, nil, a.Logger).ComputeAverages(ctx)
	if err != nil {
		return err
	}
	return writeAverages(os.Stdout, avg)
}

func writeAverages(out io.Writer, avg *netstats.PeriodAverages) error {
	if avg == nil {
		fmt.Fprintln(out, "no valid samples in the current period")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Period start\t%s\n", avg.PeriodStart.UTC().Format(time.RFC3339))
	fmt.Fprintf(writer, "Samples used\t%d\n", avg.SampleCount)
	rows := map[string]float64{
		netstats.SourceQLI:       avg.Averages.QLI,
		netstats.SourceApool:     avg.Averages.Apool,
		netstats.SourceSolutions: avg.Averages.Solutions,
		netstats.SourceMinerlab:  avg.Averages.Minerlab,
	}
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(writer, "%s\t%s\n", name, formatHashrate(rows[name]))
	}
	return writer.Flush()
}

// formatHashrate renders iterations per second with an SI suffix.
func formatHashrate(v float64) string {
	units := []string{"", "K", "M", "G", "T"}
	i := 0
	for v >= 1000 && i < len(units)-1 {
		v /= 1000
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f it/s", v)
	}
	return fmt.Sprintf("%.2f %sit/s", v, units[i])
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
