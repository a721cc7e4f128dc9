package fetcher

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// PopulationOptions configures parsing of the federal population workbook.
type PopulationOptions struct {
	Sheet    string // sheet name; empty uses the first sheet
	SkipRows int    // title and header rows before the data block
	BFSCol   int    // column holding the commune BFS number
	CountCol int    // column holding the resident count
}

// DefaultPopulationOptions matches the layout of the published
// "Ständige Wohnbevölkerung nach Gemeinde" workbook.
func DefaultPopulationOptions() PopulationOptions {
	return PopulationOptions{SkipRows: 5, BFSCol: 0, CountCol: 2}
}

// ReadPopulation parses the population workbook into a map from commune BFS
// number to resident count. Rows whose BFS cell is not a commune number
// (titles, canton subtotals, the national total) are skipped; rows with an
// unparsable count are dropped with a warning.
func ReadPopulation(path string, opts PopulationOptions) (map[string]float64, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheet, err := pickSheet(f, opts.Sheet)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]float64)
	malformed := 0
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		if len(row.Cells) <= opts.BFSCol || len(row.Cells) <= opts.CountCol {
			continue
		}

		bfs, ok := parseBFS(row.Cells[opts.BFSCol].String())
		if !ok {
			continue
		}
		count, ok := parseCount(row.Cells[opts.CountCol].String())
		if !ok {
			malformed++
			zap.L().Debug("unparsable resident count",
				zap.String("bfs", bfs),
				zap.Int("row", i+1),
			)
			continue
		}
		counts[bfs] = count
	}

	if malformed > 0 {
		zap.L().Warn("dropped population rows with unparsable counts",
			zap.String("path", path),
			zap.Int("dropped", malformed),
		)
	}
	if len(counts) == 0 {
		return nil, eris.Errorf("xlsx: no population rows found in %s", path)
	}
	return counts, nil
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

// parseBFS accepts commune numbers only: positive integers below 10000.
func parseBFS(s string) (string, bool) {
	v, err := strconv.ParseFloat(cleanNumber(s), 64)
	if err != nil || v != float64(int(v)) || v <= 0 || v >= 10000 {
		return "", false
	}
	return strconv.Itoa(int(v)), true
}

func parseCount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(cleanNumber(s), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// cleanNumber strips the apostrophe and space grouping used in Swiss number
// formats.
func cleanNumber(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\'', '’', ' ', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
