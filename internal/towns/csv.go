// Package towns loads the Swiss locality registry and answers name lookups.
package towns

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/alpenmeteo/townpick/internal/model"
)

// LoadRegistry parses the official locality registry CSV
// (Ortschaftenverzeichnis PLZ): semicolon separated, Windows-1252 encoded,
// one header row. Rows with unparsable coordinates are skipped and counted;
// duplicate ids keep their first occurrence.
func LoadRegistry(path string) ([]model.Town, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "towns: open registry %s", path)
	}
	defer func() { _ = f.Close() }()
	return ParseRegistry(f)
}

// ParseRegistry reads registry rows from r. See LoadRegistry for the format.
func ParseRegistry(r io.Reader) ([]model.Town, error) {
	log := zap.L().With(zap.String("component", "towns"))

	reader := csv.NewReader(charmap.Windows1252.NewDecoder().Reader(r))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("towns: registry is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "towns: read registry header")
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"ortschaftsname", "bfs-nr", "e", "n"} {
		if _, ok := col[name]; !ok {
			return nil, eris.Errorf("towns: registry missing column %q", name)
		}
	}

	var (
		out     []model.Town
		seen    = make(map[string]bool)
		skipped int
		dupes   int
	)
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "towns: read registry row")
		}

		t, ok := rowToTown(rec, col)
		if !ok {
			skipped++
			continue
		}
		if seen[t.ID] {
			dupes++
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}

	if skipped > 0 || dupes > 0 {
		log.Warn("registry rows skipped",
			zap.Int("unparsable", skipped),
			zap.Int("duplicates", dupes),
		)
	}
	return out, nil
}

func rowToTown(rec []string, col map[string]int) (model.Town, bool) {
	get := func(name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	name := get("ortschaftsname")
	bfs := get("bfs-nr")
	e, errE := strconv.ParseFloat(get("e"), 64)
	n, errN := strconv.ParseFloat(get("n"), 64)
	if name == "" || bfs == "" || errE != nil || errN != nil {
		return model.Town{}, false
	}

	// The Zusatzziffer distinguishes localities within one commune; the
	// pair is the registry's natural key.
	zusatz := get("zusatzziffer")
	if zusatz == "" {
		zusatz = "0"
	}

	return model.Town{
		ID:         bfs + "-" + zusatz,
		Name:       name,
		BFS:        bfs,
		Canton:     get("kantonskürzel"),
		PostalCode: get("plz"),
		Language:   get("sprache"),
		E:          e,
		N:          n,
	}, true
}

// ApplyPopulation sets each town's importance from a BFS-number keyed
// population table. Towns without a population row keep importance zero.
// Returns how many towns were matched.
func ApplyPopulation(towns []model.Town, pop map[string]float64) int {
	matched := 0
	for i := range towns {
		if v, ok := pop[towns[i].BFS]; ok {
			towns[i].Importance = v
			matched++
		}
	}
	return matched
}
