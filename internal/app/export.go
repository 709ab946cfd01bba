package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
)

// exportRow pairs one actual hourly price with the earliest prediction made
// for the same hour, when one was captured.
type exportRow struct {
	Hour      time.Time
	Actual    decimal.Decimal
	Predicted *decimal.Decimal
}

// Export renders actual prices against captured predictions as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-7 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	spot, _, _ := a.newFetchers()
	points, err := spot.FetchRange(ctx, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("no prices found for export window")
		return nil
	}

	rows := make([]exportRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, exportRow{Hour: p.Date, Actual: p.Value})
	}

	if err := a.attachPredictions(ctx, rows, from, to); err != nil {
		// Prediction history is optional decoration for the export.
		a.Logger.Warn().Err(err).Msg("prediction history unavailable, exporting actuals only")
	}

	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting prices")

	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePricesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) attachPredictions(ctx context.Context, rows []exportRow, from, to time.Time) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, err := store.ListEarliestPredictionsBetween(ctx, from, to)
	if err != nil {
		return err
	}

	byHour := make(map[time.Time]decimal.Decimal, len(snapshots))
	for _, snap := range snapshots {
		byHour[snap.TargetTime.UTC().Truncate(time.Hour)] = snap.PredictedPrice
	}

	for i := range rows {
		if predicted, ok := byHour[rows[i].Hour.UTC().Truncate(time.Hour)]; ok {
			p := predicted
			rows[i].Predicted = &p
		}
	}
	return nil
}

func downsampleRows(rows []exportRow, max int) []exportRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]exportRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writePricesCSV(path string, rows []exportRow) error {
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

	header := []string{"hour_ts", "actual_price", "predicted_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		predicted := ""
		if row.Predicted != nil {
			predicted = row.Predicted.String()
		}
		record := []string{
			row.Hour.UTC().Format(time.RFC3339),
			row.Actual.String(),
			predicted,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePricesPNG(path string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	actual := make([]float64, len(rows))
	for i, row := range rows {
		x[i] = row.Hour
		actual[i] = row.Actual.InexactFloat64()
	}

	predictedX := make([]time.Time, 0, len(rows))
	predicted := make([]float64, 0, len(rows))
	for _, row := range rows {
		if row.Predicted != nil {
			predictedX = append(predictedX, row.Hour)
			predicted = append(predicted, row.Predicted.InexactFloat64())
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (c/kWh)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Actual",
				XValues: x,
				YValues: actual,
			},
		},
	}
	if len(predicted) > 1 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Predicted",
			XValues: predictedX,
			YValues: predicted,
		})
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
