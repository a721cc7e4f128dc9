package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpenmeteo/townpick/internal/output"
	"github.com/alpenmeteo/townpick/internal/pipeline"
	"github.com/alpenmeteo/townpick/internal/selection"
	"github.com/alpenmeteo/townpick/internal/store"
)

var (
	pickRegistry   string
	pickBoundaries string
	pickPopulation string
	pickPolicy     string
	pickSeparation float64
	pickCoverage   bool
	pickOrder      string
	pickFormat     string
	pickOut        string
	pickIDField    string
	pickWorkers    int
	pickSave       bool
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Select the towns to label",
	Long: `Runs the full labeling pass: loads the locality registry, applies
population counts, assigns each town to its administrative region, then
keeps the most important towns subject to the separation policy.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		// Flags override the config before validation so both surfaces
		// share one rule set.
		if cmd.Flags().Changed("separation") {
			cfg.Pick.SeparationM = pickSeparation
		}
		if cmd.Flags().Changed("coverage") {
			cfg.Pick.Coverage = pickCoverage
		}
		if pickOrder != "" {
			cfg.Pick.Order = pickOrder
		}
		if pickFormat != "" {
			cfg.Pick.Format = pickFormat
		}
		if cmd.Flags().Changed("workers") {
			cfg.Pick.Workers = pickWorkers
		}
		if err := cfg.Validate("pick"); err != nil {
			return err
		}

		registry := pickRegistry
		if registry == "" {
			registry = cfg.Data.RegistryPath()
		}
		// Config-default dataset paths degrade gracefully when the file
		// is absent; explicitly flagged paths are passed through and fail
		// loudly in the pipeline.
		boundaries := cfg.Data.BoundariesPath()
		if cmd.Flags().Changed("boundaries") {
			boundaries = pickBoundaries
		} else if boundaries != "" {
			if _, err := os.Stat(boundaries); err != nil {
				zap.L().Warn("boundaries shapefile not found, towns stay unassigned",
					zap.String("path", boundaries),
				)
				boundaries = ""
			}
		}
		population := cfg.Data.PopulationPath()
		if cmd.Flags().Changed("population") {
			population = pickPopulation
		} else if population != "" {
			if _, err := os.Stat(population); err != nil {
				zap.L().Warn("population workbook not found, using registry importance",
					zap.String("path", population),
				)
				population = ""
			}
		}

		policy, err := resolvePolicy(pickPolicy, cfg.Pick.SeparationM)
		if err != nil {
			return err
		}

		var st store.Store
		if pickSave {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
		}

		p := pipeline.New(pipeline.Options{
			RegistryPath:   registry,
			BoundariesPath: boundaries,
			PopulationPath: population,
			IDField:        pickIDField,
			Policy:         policy,
			EnsureCoverage: cfg.Pick.Coverage,
			Order:          output.OrderBy(cfg.Pick.Order),
			Workers:        cfg.Pick.Workers,
			Store:          st,
		})

		result, err := p.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "pick run")
		}

		var w io.Writer = os.Stdout
		if pickOut != "" && pickOut != "-" {
			f, createErr := os.Create(pickOut)
			if createErr != nil {
				return eris.Wrapf(createErr, "create output file %s", pickOut)
			}
			if err := output.Encode(f, result.Labels, output.Format(cfg.Pick.Format)); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return eris.Wrapf(err, "close output file %s", pickOut)
			}
			fmt.Printf("Wrote %d labels to %s\n", len(result.Labels), pickOut)
			return nil
		}

		return output.Encode(w, result.Labels, output.Format(cfg.Pick.Format))
	},
}

// resolvePolicy builds the separation policy: a policy file when given,
// otherwise a constant policy at the configured distance.
func resolvePolicy(path string, separation float64) (selection.SeparationPolicy, error) {
	if path != "" {
		return selection.LoadPolicy(path)
	}
	return selection.ConstantPolicy{Distance: separation}, nil
}

func init() {
	pickCmd.Flags().StringVar(&pickRegistry, "registry", "", "locality registry CSV (default from config)")
	pickCmd.Flags().StringVar(&pickBoundaries, "boundaries", "", "boundaries shapefile; pass an empty value to skip region assignment (default from config)")
	pickCmd.Flags().StringVar(&pickPopulation, "population", "", "population workbook; pass an empty value to skip enrichment (default from config)")
	pickCmd.Flags().StringVar(&pickPolicy, "policy", "", "separation policy YAML file (overrides --separation)")
	pickCmd.Flags().Float64Var(&pickSeparation, "separation", 0, "constant separation distance in metres (default from config)")
	pickCmd.Flags().BoolVar(&pickCoverage, "coverage", false, "force one label into every region left empty (default from config)")
	pickCmd.Flags().StringVar(&pickOrder, "order", "", "output order: rank or position (default from config)")
	pickCmd.Flags().StringVar(&pickFormat, "format", "", "output format: json, csv or geojson (default from config)")
	pickCmd.Flags().StringVar(&pickOut, "out", "", "output file (default stdout)")
	pickCmd.Flags().StringVar(&pickIDField, "id-field", "", "shapefile attribute carrying the region id (default BFS_NUMMER)")
	pickCmd.Flags().IntVar(&pickWorkers, "workers", 0, "transform worker count (default GOMAXPROCS)")
	pickCmd.Flags().BoolVar(&pickSave, "save", false, "record the run in the store")
	rootCmd.AddCommand(pickCmd)
}
