package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/UnknownOlympus/meridian/internal/batch"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

var errNotArray = errors.New("input JSON must be an array of objects")

// readJSONArray decodes a file holding a JSON array of objects. Numbers keep
// their textual form so untouched fields are written back unchanged.
func readJSONArray(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var items []map[string]any
	if err = dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %w", errNotArray, err)
	}
	return items, nil
}

// writeJSON writes v indented, creating the parent directory when needed.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// progressBar renders batch progress on a terminal and stays silent otherwise.
type progressBar struct {
	bar *progressbar.ProgressBar
}

func newProgressBar(total int, description string) *progressBar {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return &progressBar{}
	}
	return &progressBar{bar: progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)}
}

func (p *progressBar) update(progress batch.Progress) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Set(progress.Done())
}

func (p *progressBar) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
