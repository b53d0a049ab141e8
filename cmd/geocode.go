package main

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/UnknownOlympus/meridian/internal/batch"
	"github.com/UnknownOlympus/meridian/internal/geocoding"
	"github.com/UnknownOlympus/meridian/internal/metrics"
	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/UnknownOlympus/meridian/internal/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type geocodeOptions struct {
	input    string
	output   string
	progress string
	resume   bool
}

func newGeocodeCmd(a *app) *cobra.Command {
	opts := geocodeOptions{}

	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Resolve the addresses of a JSON array of places",
		Long: `
geocode reads a JSON array of objects carrying "title" or "name" and "address",
resolves every distinct address once and writes the items back enriched with
coordinates and match metadata.
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.geocode(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "input JSON array")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output JSON file")
	cmd.Flags().StringVar(&opts.progress, "progress", "", "JSONL journal used to resume an interrupted run")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "skip addresses already resolved in the journal")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func (a *app) geocode(ctx context.Context, stdout io.Writer, opts geocodeOptions) error {
	if opts.resume && opts.progress == "" {
		return errors.New("--resume requires --progress")
	}

	items, err := readJSONArray(opts.input)
	if err != nil {
		return err
	}

	addresses, itemAddresses := distinctAddresses(items)
	a.log.InfoContext(ctx, "Places loaded", "items", len(items), "addresses", len(addresses))

	appMetrics := metrics.NewMetrics(prometheus.NewRegistry())
	eng, err := newEngine(ctx, a.cfg, a.log, appMetrics, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	journal, closeJournal, err := openJournal(a.log, opts.progress)
	if err != nil {
		return err
	}
	defer closeJournal()

	bar := newProgressBar(len(addresses), "Geocoding")
	orch := batch.New[string, models.Resolution](batch.Config{
		ConcurrencyLimit: a.cfg.Workers,
		MaxRetries:       a.cfg.Retry.MaxRetries,
		BackoffBase:      a.cfg.Retry.BackoffBase,
		BackoffUnit:      a.cfg.Retry.BackoffUnit,
		Resume:           opts.resume,
		Retryable:        geocoding.IsTransient,
		OnProgress:       bar.update,
	}, journal, a.log, appMetrics)

	result, runErr := orch.Run(ctx, addresses, resolveAddress(eng.resolver, a.cfg.AddrPrefix))
	bar.finish()

	if err = eng.cache.Flush(context.WithoutCancel(ctx)); err != nil {
		a.log.ErrorContext(ctx, "Failed to flush result cache", "error", err)
	}
	if result == nil {
		return fmt.Errorf("failed to geocode places: %w", runErr)
	}

	resolved := make(map[string]models.Resolution, len(result.Items))
	for _, item := range result.Items {
		if !item.Failed {
			resolved[addresses[item.Index]] = item.Output
		}
	}

	succeeded := 0
	for i, item := range items {
		res, ok := resolved[itemAddresses[i]]
		enrichItem(item, placeName(item), res, ok && res.Found())
		if ok && res.Found() {
			succeeded++
		}
	}

	if err = writeJSON(opts.output, items); err != nil {
		return err
	}

	stats := eng.cache.Stats()
	fmt.Fprintf(stdout, "Geocoding finished (run %s)\n", result.RunID)
	fmt.Fprintf(stdout, "  succeeded: %d\n", succeeded)
	fmt.Fprintf(stdout, "  failed:    %d\n", len(items)-succeeded)
	fmt.Fprintf(stdout, "  addresses: %d resolved, %d skipped, %d failed\n",
		result.Summary.Succeeded, result.Summary.Skipped, result.Summary.Failed)
	fmt.Fprintf(stdout, "  cache:     %d hits, %d negative hits, %d misses\n",
		stats.Hits, stats.NegativeHits, stats.Misses)
	fmt.Fprintf(stdout, "  output:    %s\n", opts.output)

	return runErr
}

// resolveAddress is the unit of work of the geocode command. An address that
// matches at no level is a successful item with an empty resolution, so a
// resumed run does not try it again.
func resolveAddress(res *resolver.Resolver, prefix string) batch.Func[string, models.Resolution] {
	return func(ctx context.Context, _ int, raw string) (models.Resolution, error) {
		addr, err := models.ParseAddress(prefix+raw, models.DefaultLevelSeparator)
		if err != nil {
			return models.Resolution{}, batch.Permanent(fmt.Errorf("failed to parse address: %w", err))
		}
		return res.Resolve(ctx, addr)
	}
}

// placeName returns the title, the name or the address of an item, in that order.
func placeName(item map[string]any) string {
	for _, key := range []string{"title", "name", "address"} {
		if s, ok := item[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// placeAddress returns the address of an item, falling back to its name.
func placeAddress(item map[string]any) string {
	if s, ok := item["address"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return placeName(item)
}

// distinctAddresses lists every address once in first-seen order and returns,
// for each item, the address it resolves through.
func distinctAddresses(items []map[string]any) ([]string, []string) {
	seen := make(map[string]struct{}, len(items))
	var distinct []string
	byItem := make([]string, len(items))

	for i, item := range items {
		addr := placeAddress(item)
		byItem[i] = addr
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		distinct = append(distinct, addr)
	}

	return distinct, byItem
}

// enrichItem adds the geocoding fields to item in place.
func enrichItem(item map[string]any, name string, res models.Resolution, found bool) {
	item["geocodeSuccess"] = found
	if !found {
		return
	}

	r := res.Result
	if c := r.Coordinates(); c != nil {
		item["latitude"] = c.Latitude
		item["longitude"] = c.Longitude
	}
	item["locality"] = r.Locality()
	item["countryCode"] = r.CountryCode()
	item["formattedAddress"] = r.DisplayName()
	item["geocodeSource"] = r.Provider()
	item["matchLevel"] = res.MatchLevel
	item["matchMethod"] = string(res.MatchMethod)
	item["validationPassed"] = res.ValidationPassed
	item["clientId"] = clientID(r, name)
}

// clientID is "<provider>-<providerID>" when the provider reported an id,
// otherwise "name-" followed by the first ten hex digits of the name's SHA-1.
func clientID(res *models.GeocodeResult, name string) string {
	if res != nil && res.ProviderID() != "" {
		return res.Provider() + "-" + res.ProviderID()
	}
	sum := sha1.Sum([]byte(name))
	return "name-" + hex.EncodeToString(sum[:])[:10]
}

// openJournal opens the progress file, or an in-memory journal when path is empty.
func openJournal(log *slog.Logger, path string) (batch.Journal, func(), error) {
	if path == "" {
		return batch.NewMemoryJournal(), func() {}, nil
	}

	journal, err := batch.NewFileJournal(path)
	if err != nil {
		return nil, nil, err
	}
	return journal, func() {
		if errClose := journal.Close(); errClose != nil {
			log.Error("Failed to close journal", "path", path, "error", errClose)
		}
	}, nil
}
