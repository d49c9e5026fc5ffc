package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atlas-desktop/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// No third-party CSV library appears anywhere in the idioms this module
// draws on; encoding/csv is the standard-library concern this repository
// leans on for ingestion.

var requiredColumns = []string{"open", "high", "low", "close"}

func loadCSV(src types.SourceConfig) ([]types.Bar, int, error) {
	f, err := os.Open(src.File)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", src.File, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	dateCol := src.DateColumn
	if dateCol == "" {
		dateCol = "timestamp"
	}
	dateIdx, ok := index[strings.ToLower(dateCol)]
	if !ok {
		return nil, 0, fmt.Errorf("missing date column %q", dateCol)
	}

	colIdx := make(map[string]int, len(requiredColumns)+1)
	for _, logical := range append(append([]string{}, requiredColumns...), "volume") {
		header := src.PriceColumns[logical]
		if header == "" {
			header = logical
		}
		idx, found := index[strings.ToLower(header)]
		if !found {
			if logical == "volume" {
				continue // optional
			}
			return nil, 0, fmt.Errorf("missing required column %q (mapped from %q)", logical, header)
		}
		colIdx[logical] = idx
	}

	dateFormat := src.DateFormat
	if dateFormat == "" {
		dateFormat = time.RFC3339
	}

	var bars []types.Bar
	dropped := 0
	for {
		record, err := reader.Read()
		if err != nil {
			if _, malformed := err.(*csv.ParseError); malformed {
				dropped++ // e.g. a wrong field count; reading resumes at the next row
				continue
			}
			break // io.EOF or a read error; stop reading
		}

		ts, err := time.Parse(dateFormat, strings.TrimSpace(record[dateIdx]))
		if err != nil {
			dropped++
			continue
		}

		bar := types.Bar{Symbol: src.Symbol, Timestamp: ts}
		ok := true
		if bar.Open, err = parseDecimal(record, colIdx, "open"); err != nil {
			ok = false
		}
		if ok {
			if bar.High, err = parseDecimal(record, colIdx, "high"); err != nil {
				ok = false
			}
		}
		if ok {
			if bar.Low, err = parseDecimal(record, colIdx, "low"); err != nil {
				ok = false
			}
		}
		if ok {
			if bar.Close, err = parseDecimal(record, colIdx, "close"); err != nil {
				ok = false
			}
		}
		if !ok {
			dropped++
			continue
		}
		if idx, has := colIdx["volume"]; has {
			if v, err := decimal.NewFromString(strings.TrimSpace(record[idx])); err == nil {
				bar.Volume = v
			}
		}

		bars = append(bars, bar)
	}

	return bars, dropped, nil
}

func parseDecimal(record []string, colIdx map[string]int, logical string) (decimal.Decimal, error) {
	idx := colIdx[logical]
	if idx >= len(record) {
		return decimal.Zero, fmt.Errorf("row too short for column %q", logical)
	}
	return decimal.NewFromString(strings.TrimSpace(record[idx]))
}
