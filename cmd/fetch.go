package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/fetcher"
)

var fetchForce bool

// datasetTarget describes one downloadable input dataset. A non-empty keep
// list marks the download as a ZIP whose matching members land in the data
// directory; otherwise the download itself is the dataset file.
type datasetTarget struct {
	name string
	url  string
	file string
	keep []string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [registry|boundaries|population]...",
	Short: "Download the input datasets",
	Long: `Downloads the locality registry, the boundary shapefile and the
population workbook into the data directory. Downloads are conditional on
the upstream ETag or Last-Modified value; an unchanged copy is not
transferred again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		targets, err := datasetTargets(args)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
			return eris.Wrapf(err, "create data dir %s", cfg.Data.Dir)
		}

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		})

		for _, tgt := range targets {
			if err := fetchDataset(ctx, f, tgt); err != nil {
				return eris.Wrapf(err, "fetch %s", tgt.name)
			}
		}

		fmt.Println("Datasets up to date.")
		return nil
	},
}

// datasetTargets resolves the requested dataset names, defaulting to all
// three in a fixed order.
func datasetTargets(args []string) ([]datasetTarget, error) {
	all := []datasetTarget{
		{name: "registry", url: cfg.Data.Registry.URL, file: cfg.Data.Registry.File, keep: []string{".csv"}},
		{name: "boundaries", url: cfg.Data.Boundaries.URL, file: cfg.Data.Boundaries.File, keep: []string{".shp", ".dbf", ".shx", ".prj"}},
		{name: "population", url: cfg.Data.Population.URL, file: cfg.Data.Population.File},
	}
	if len(args) == 0 {
		return all, nil
	}

	byName := make(map[string]datasetTarget, len(all))
	for _, t := range all {
		byName[t.name] = t
	}
	out := make([]datasetTarget, 0, len(args))
	for _, a := range args {
		t, ok := byName[a]
		if !ok {
			return nil, eris.Errorf("unknown dataset %q (want registry, boundaries or population)", a)
		}
		out = append(out, t)
	}
	return out, nil
}

func fetchDataset(ctx context.Context, f *fetcher.HTTPFetcher, tgt datasetTarget) error {
	log := zap.L().With(zap.String("dataset", tgt.name))

	// Plain file download.
	if len(tgt.keep) == 0 {
		path := filepath.Join(cfg.Data.Dir, tgt.file)
		if fetchForce {
			_ = os.Remove(fetcher.SidecarPath(path))
		}
		changed, err := f.SyncFile(ctx, tgt.url, path)
		if err != nil {
			return err
		}
		log.Info("dataset synced", zap.String("path", path), zap.Bool("changed", changed))
		return nil
	}

	// ZIP download and extraction.
	zipPath := filepath.Join(cfg.Data.Dir, tgt.name+".zip")
	if fetchForce {
		_ = os.Remove(fetcher.SidecarPath(zipPath))
	}
	changed, err := f.SyncFile(ctx, tgt.url, zipPath)
	if err != nil {
		return err
	}

	target := filepath.Join(cfg.Data.Dir, tgt.file)
	if !changed && !fetchForce {
		if _, statErr := os.Stat(target); statErr == nil {
			log.Info("dataset up to date", zap.String("path", target))
			return nil
		}
	}

	files, err := fetcher.ExtractZIP(zipPath, cfg.Data.Dir, fetcher.ZIPOptions{Keep: tgt.keep, Flatten: true})
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err != nil {
		return eris.Errorf("expected file %s missing after extraction", target)
	}
	log.Info("dataset extracted", zap.Int("files", len(files)), zap.String("path", target))
	return nil
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "redownload and re-extract even when unchanged")
	rootCmd.AddCommand(fetchCmd)
}
