package main

import (
	"log/slog"

	"github.com/UnknownOlympus/meridian/internal/config"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once the configuration is loaded.
type app struct {
	cfg *config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "meridian",
		Short: "Resolve hierarchical place references into validated coordinates",
		Long: `
meridian resolves "province-city-district-street-POI" addresses against
rate-limited geocoding providers, validates every answer, caches it, and runs
bulk jobs that survive interruption.
`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			a.cfg = config.MustLoad()
			a.log = setupLogger(a.cfg.Env)
		},
	}

	root.AddCommand(newServeCmd(a), newGeocodeCmd(a), newCleanCmd(a))

	return root
}
