package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/UnknownOlympus/meridian/internal/batch"
	"github.com/UnknownOlympus/meridian/internal/llm"
	"github.com/UnknownOlympus/meridian/internal/metrics"
	"github.com/UnknownOlympus/meridian/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const defaultCleanBatchSize = 5

var errMissingLLMKey = errors.New("an API key is required (MERIDIAN_LLM_API_KEY or OPENAI_API_KEY)")

type cleanOptions struct {
	input          string
	output         string
	systemFile     string
	progress       string
	batchSize      int
	maxConcurrency int
	rateLimit      float64
	resume         bool
}

// cleanedItem is one entry of the model answer that survived sanitizing.
type cleanedItem struct {
	Title    string `json:"title"`
	Address  string `json:"address"`
	Synopsis string `json:"synopsis"`
}

func newCleanCmd(a *app) *cobra.Command {
	opts := cleanOptions{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Condense records in batches through an OpenAI compatible chat endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.clean(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "input JSON array")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output JSON file")
	cmd.Flags().StringVar(&opts.systemFile, "system-file", "", "system prompt file")
	cmd.Flags().StringVar(&opts.progress, "progress", "", "JSONL journal of finished batches")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", defaultCleanBatchSize, "records per request")
	cmd.Flags().IntVar(&opts.maxConcurrency, "max-concurrency", 0, "concurrent requests, MERIDIAN_WORKERS when zero")
	cmd.Flags().Float64Var(&opts.rateLimit, "rate-limit", 0, "requests per second, unlimited when zero")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "skip batches already finished in the journal")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("system-file")
	_ = cmd.MarkFlagRequired("progress")

	return cmd
}

func (a *app) clean(ctx context.Context, stdout io.Writer, opts cleanOptions) error {
	if a.cfg.LLM.APIKey == "" {
		return errMissingLLMKey
	}
	if opts.batchSize < 1 {
		return fmt.Errorf("--batch-size must be positive, got %d", opts.batchSize)
	}

	systemPrompt, err := os.ReadFile(opts.systemFile)
	if err != nil {
		return fmt.Errorf("failed to read system prompt: %w", err)
	}

	items, err := readJSONArray(opts.input)
	if err != nil {
		return err
	}
	batches := chunk(items, opts.batchSize)

	journal, err := batch.NewFileJournal(opts.progress)
	if err != nil {
		return err
	}
	defer journal.Close()

	client := llm.NewClient(a.cfg.LLM.BaseURL, a.cfg.LLM.APIKey, a.cfg.LLM.Model, a.cfg.LLM.Timeout, a.log)
	a.log.InfoContext(ctx, "Cleaning started",
		"base_url", a.cfg.LLM.BaseURL,
		"model", a.cfg.LLM.Model,
		"items", len(items),
		"batches", len(batches),
	)

	concurrency := opts.maxConcurrency
	if concurrency < 1 {
		concurrency = a.cfg.Workers
	}
	var limiter *ratelimit.Limiter
	if opts.rateLimit > 0 {
		limiter = ratelimit.New(opts.rateLimit, 0)
	}

	bar := newProgressBar(len(batches), "Cleaning")
	orch := batch.New[[]map[string]any, []cleanedItem](batch.Config{
		ConcurrencyLimit: concurrency,
		MaxRetries:       a.cfg.Retry.MaxRetries,
		BackoffBase:      a.cfg.Retry.BackoffBase,
		BackoffUnit:      a.cfg.Retry.BackoffUnit,
		Limiter:          limiter,
		Resume:           opts.resume,
		Retryable:        llm.IsTransient,
		OnProgress:       bar.update,
	}, journal, a.log, metrics.NewMetrics(prometheus.NewRegistry()))

	result, runErr := orch.Run(ctx, batches, cleanBatch(client, string(systemPrompt)))
	bar.finish()
	if result == nil {
		return fmt.Errorf("failed to clean records: %w", runErr)
	}

	merged := make([]cleanedItem, 0, len(items))
	for _, out := range result.Outputs() {
		merged = append(merged, out...)
	}

	if err = writeJSON(opts.output, merged); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Cleaning finished (run %s): %d records in %s\n", result.RunID, len(merged), opts.output)
	fmt.Fprintf(stdout, "  batches: %d done, %d skipped, %d failed\n",
		result.Summary.Succeeded, result.Summary.Skipped, result.Summary.Failed)

	return runErr
}

// Completer is the chat completion call of the clean command.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// cleanBatch sends one batch with the system prompt and keeps the items of
// the answer that carry a title, an address and a synopsis.
func cleanBatch(client Completer, systemPrompt string) batch.Func[[]map[string]any, []cleanedItem] {
	return func(ctx context.Context, _ int, records []map[string]any) ([]cleanedItem, error) {
		payload, err := json.Marshal(records)
		if err != nil {
			return nil, batch.Permanent(fmt.Errorf("failed to encode batch: %w", err))
		}

		content, err := client.Complete(ctx, []llm.Message{
			llm.System(systemPrompt),
			llm.User(string(payload)),
		})
		if err != nil {
			return nil, err
		}

		return parseCleaned(content), nil
	}
}

// parseCleaned extracts the JSON array of a model answer. An answer without
// one yields no items.
func parseCleaned(content string) []cleanedItem {
	raw, ok := llm.ExtractJSONArray(content)
	if !ok {
		return []cleanedItem{}
	}

	var candidates []any
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return []cleanedItem{}
	}
	return sanitizeCleaned(candidates)
}

func sanitizeCleaned(candidates []any) []cleanedItem {
	out := make([]cleanedItem, 0, len(candidates))
	for _, candidate := range candidates {
		c, ok := candidate.(map[string]any)
		if !ok {
			continue
		}
		title, okT := c["title"].(string)
		address, okA := c["address"].(string)
		synopsis, okS := c["synopsis"].(string)
		if !okT || !okA || !okS {
			continue
		}

		item := cleanedItem{
			Title:    strings.TrimSpace(title),
			Address:  strings.TrimSpace(address),
			Synopsis: strings.TrimSpace(synopsis),
		}
		if item.Title == "" || item.Address == "" || item.Synopsis == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

// chunk splits items into consecutive slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
