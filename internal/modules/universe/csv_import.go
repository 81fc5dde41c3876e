package universe

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
)

// CSVImporter loads the per-ticker CSV layout produced by the stock
// updater ({Open,High,Low,Close,Volume,symbol,company_name,sector,
// industry,date}, one file per ticker) into history.db.
type CSVImporter struct {
	bars       *BarRepository
	securities *SecurityRepository
	log        zerolog.Logger
}

// NewCSVImporter creates a new CSV importer
func NewCSVImporter(bars *BarRepository, securities *SecurityRepository, log zerolog.Logger) *CSVImporter {
	return &CSVImporter{
		bars:       bars,
		securities: securities,
		log:        log.With().Str("component", "csv_importer").Logger(),
	}
}

// ImportDir imports every *.csv file under dir. Returns the number of
// bars ingested. Malformed rows are skipped and counted, not fatal.
func (i *CSVImporter) ImportDir(ctx context.Context, dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return 0, fmt.Errorf("failed to list csv files in %s: %w", dir, err)
	}

	total := 0
	for _, path := range matches {
		n, err := i.ImportFile(ctx, path)
		if err != nil {
			i.log.Warn().Err(err).Str("file", path).Msg("Skipping file")
			continue
		}
		total += n
	}

	i.log.Info().Int("files", len(matches)).Int("bars", total).Msg("CSV import complete")
	return total, nil
}

// ImportFile imports a single per-ticker CSV file.
func (i *CSVImporter) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	cols := make(map[string]int, len(header))
	for idx, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	for _, required := range []string{"open", "high", "low", "close", "volume", "symbol", "date"} {
		if _, ok := cols[required]; !ok {
			return 0, fmt.Errorf("%s: missing column %q", path, required)
		}
	}

	var (
		bars    []domain.Bar
		meta    SecurityMeta
		skipped int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		bar, rowMeta, err := parseRow(record, cols)
		if err != nil {
			skipped++
			continue
		}
		bars = append(bars, bar)
		if meta.Ticker == "" {
			meta = rowMeta
		}
	}

	if len(bars) == 0 {
		return 0, fmt.Errorf("%s: no parseable rows", path)
	}

	if err := i.bars.SaveBars(ctx, bars); err != nil {
		return 0, err
	}
	if err := i.securities.Upsert(ctx, meta); err != nil {
		return 0, err
	}

	if skipped > 0 {
		i.log.Warn().Str("file", path).Int("skipped", skipped).Msg("Skipped malformed rows")
	}
	return len(bars), nil
}

func parseRow(record []string, cols map[string]int) (domain.Bar, SecurityMeta, error) {
	get := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	date, err := time.ParseInLocation(DateFormat, get("date"), time.UTC)
	if err != nil {
		return domain.Bar{}, SecurityMeta{}, err
	}

	parse := func(name string) (float64, error) {
		return strconv.ParseFloat(get(name), 64)
	}

	bar := domain.Bar{Ticker: strings.ToUpper(get("symbol")), Date: date}
	if bar.Open, err = parse("open"); err != nil {
		return domain.Bar{}, SecurityMeta{}, err
	}
	if bar.High, err = parse("high"); err != nil {
		return domain.Bar{}, SecurityMeta{}, err
	}
	if bar.Low, err = parse("low"); err != nil {
		return domain.Bar{}, SecurityMeta{}, err
	}
	if bar.Close, err = parse("close"); err != nil {
		return domain.Bar{}, SecurityMeta{}, err
	}
	if bar.Volume, err = parse("volume"); err != nil {
		return domain.Bar{}, SecurityMeta{}, err
	}

	meta := SecurityMeta{
		Ticker:   bar.Ticker,
		Name:     get("company_name"),
		Sector:   get("sector"),
		Industry: get("industry"),
	}
	return bar, meta, nil
}
