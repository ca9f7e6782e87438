package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"qubic-netstats/internal/storage"
)

// Export renders samples as CSV and/or PNG. The window defaults to the current period.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	anchor, err := a.anchor()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := anchor.Start(to)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesSince(ctx, from)
	if err != nil {
		return err
	}
	samples = samplesBefore(samples, to)
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func samplesBefore(samples []storage.Sample, to time.Time) []storage.Sample {
	for i, s := range samples {
		if !s.Timestamp.Before(to) {
			return samples[:i]
		}
	}
	return samples
}

func downsampleSamples(samples []storage.Sample, max int) []storage.Sample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.Sample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "period_start", "qli_hashrate", "apool_hashrate", "solutions_hashrate", "minerlab_hashrate", "was_idle"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range samples {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339),
			s.PeriodStart.UTC().Format(time.RFC3339),
			formatFloat(s.QLIHashrate),
			formatFloat(s.ApoolHashrate),
			formatFloat(s.SolutionsHashrate),
			formatFloat(s.MinerlabHashrate),
			strconv.FormatBool(s.WasIdle),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path string, samples []storage.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	qli := make([]float64, len(samples))
	apool := make([]float64, len(samples))
	solutions := make([]float64, len(samples))
	minerlab := make([]float64, len(samples))

	for i, s := range samples {
		x[i] = s.Timestamp
		qli[i] = s.QLIHashrate / 1e6
		apool[i] = s.ApoolHashrate / 1e6
		solutions[i] = s.SolutionsHashrate / 1e6
		minerlab[i] = s.MinerlabHashrate / 1e6
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Hashrate (M it/s)",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "QLI", XValues: x, YValues: qli},
			chart.TimeSeries{Name: "Apool", XValues: x, YValues: apool},
			chart.TimeSeries{Name: "Solutions", XValues: x, YValues: solutions},
			chart.TimeSeries{Name: "Minerlab", XValues: x, YValues: minerlab},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
