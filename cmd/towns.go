package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alpenmeteo/townpick/internal/model"
	"github.com/alpenmeteo/townpick/internal/swissgrid"
	"github.com/alpenmeteo/townpick/internal/towns"
)

var townsRegistry string

var townsCmd = &cobra.Command{
	Use:   "towns",
	Short: "Inspect the locality registry",
}

var townsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Summarize the loaded registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		all, err := loadTowns()
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		if limit > len(all) {
			limit = len(all)
		}

		fmt.Printf("Loaded %d localities (showing %d)\n\n", len(all), limit)
		formatTowns(os.Stdout, all[:limit])
		return nil
	},
}

var townsInfoCmd = &cobra.Command{
	Use:   "info <query>",
	Short: "Look up localities by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := loadTowns()
		if err != nil {
			return err
		}

		matches := towns.Lookup(all, args[0])
		if len(matches) == 0 {
			fmt.Fprintf(os.Stderr, "No towns match %q.\n", args[0])
			return nil
		}

		formatTowns(os.Stdout, matches)
		return nil
	},
}

func loadTowns() ([]model.Town, error) {
	registry := townsRegistry
	if registry == "" {
		registry = cfg.Data.RegistryPath()
	}
	return towns.LoadRegistry(registry)
}

// formatTowns writes a tabular town listing including derived WGS84
// coordinates. Out-of-range coordinates show a dash.
func formatTowns(out io.Writer, list []model.Town) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCANTON\tPLZ\tE\tN\tLAT\tLON")

	for _, t := range list {
		latStr, lonStr := "-", "-"
		if lat, lon, err := swissgrid.ToWGS84(t.E, t.N); err == nil {
			latStr = fmt.Sprintf("%.5f", lat)
			lonStr = fmt.Sprintf("%.5f", lon)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%.1f\t%s\t%s\n",
			t.ID, t.Name, t.Canton, t.PostalCode, t.E, t.N, latStr, lonStr)
	}
	_ = w.Flush()
}

func init() {
	townsCmd.PersistentFlags().StringVar(&townsRegistry, "registry", "", "locality registry CSV (default from config)")
	townsListCmd.Flags().Int("limit", 20, "max number of localities to display")

	townsCmd.AddCommand(townsListCmd)
	townsCmd.AddCommand(townsInfoCmd)
	rootCmd.AddCommand(townsCmd)
}
