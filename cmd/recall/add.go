// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/retrieval"
	"github.com/jllopis/recall/pkg/telemetry"
	"github.com/jllopis/recall/pkg/vectorstore"
)

const maxLineBytes = 4 << 20

type addFlags struct {
	batchSize int
	source    string
	quiet     bool
}

func (a *app) addCommand() *cobra.Command {
	var flags addFlags
	cmd := &cobra.Command{
		Use:   "add <file|glob|->...",
		Short: "Embed passages from JSONL files and store them",
		Long: `Read passages from JSON Lines files, one object per line:

  {"text": "cats are mammals", "source": "a.txt", "lang": "en"}

"text" is required. Every other string, number or boolean field is stored
as metadata. Arguments may be doublestar globs such as "corpus/**/*.jsonl";
"-" reads standard input.

Examples:
  recall add passages.jsonl
  recall add "corpus/**/*.jsonl" --batch-size 64`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAdd(cmd, args, flags)
		},
	}
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "passages per embedding call (default from config)")
	cmd.Flags().StringVar(&flags.source, "source", "", "source for passages that do not set one (default: file name)")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "do not show progress")
	return cmd
}

func (a *app) runAdd(cmd *cobra.Command, args []string, flags addFlags) error {
	ctx, span := otel.Tracer("recall/cli").Start(cmd.Context(), "recall.add")
	defer span.End()

	files, err := expandInputs(args)
	if err != nil {
		return err
	}

	var passages []retrieval.Passage
	for _, name := range files {
		ps, err := a.readPassages(name, flags.source)
		if err != nil {
			return err
		}
		passages = append(passages, ps...)
	}
	span.SetAttributes(
		attribute.Int(telemetry.AttrIngestFiles, len(files)),
		attribute.Int(telemetry.AttrIngestBatch, len(passages)),
	)
	if len(passages) == 0 {
		fmt.Fprintln(a.stdout, "No passages found.")
		return nil
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	batchSize := a.cfg.Embedder.BatchSize
	if flags.batchSize > 0 {
		batchSize = flags.batchSize
	}
	indexer := retrieval.NewIndexer(a.embedder(), store, batchSize, a.logger, a.metrics)

	var progress func(int)
	if !flags.quiet {
		bar := progressbar.NewOptions(len(passages),
			progressbar.OptionSetWriter(a.stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(a.stderr)
			}),
		)
		progress = func(n int) { _ = bar.Add(n) }
	}

	stored, err := indexer.Index(ctx, passages, progress)
	if stored > 0 {
		// Batches stored before a failure are kept, so they are persisted too.
		if _, perr := a.persist(ctx, store); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		return fmt.Errorf("stored %d of %d passages: %w", stored, len(passages), err)
	}

	total, err := store.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Added %d passages from %d file(s); store now holds %d entries.\n", stored, len(files), total)
	if vectorstore.BackendOf(store) == vectorstore.BackendFlat && a.cfg.Store.Flat.SnapshotPath == "" {
		fmt.Fprintln(a.stderr, "Warning: store.flat.snapshot_path is not set, passages are not persisted.")
	}
	return nil
}

// expandInputs resolves globs in order, dropping duplicates. "-" is kept
// as is.
func expandInputs(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, arg := range args {
		if arg == "-" {
			if !seen[arg] {
				seen[arg] = true
				files = append(files, arg)
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, NewInvalidArgumentError(arg, fmt.Sprintf("bad pattern %q: %v", arg, err))
		}
		if len(matches) == 0 {
			return nil, NewInvalidArgumentError(arg, fmt.Sprintf("no files match %q", arg))
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

func (a *app) readPassages(name, defaultSource string) ([]retrieval.Passage, error) {
	var r io.Reader
	source := defaultSource
	if name == "-" {
		r = a.stdin
		if source == "" {
			source = "stdin"
		}
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "open input", err).WithContext("file", name)
		}
		defer f.Close()
		r = f
		if source == "" {
			source = name
		}
	}
	return parsePassages(r, name, source)
}

// parsePassages decodes one passage per non-blank line.
func parsePassages(r io.Reader, name, defaultSource string) ([]retrieval.Passage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []retrieval.Passage
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		p, err := parsePassage(raw, defaultSource)
		if err != nil {
			return nil, errors.Newf(errors.CodeInvalidInput, "%s:%d: %v", name, line, err).
				WithContext("file", name).
				WithContext("line", line)
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "read "+name, err)
	}
	return out, nil
}

func parsePassage(raw []byte, defaultSource string) (retrieval.Passage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return retrieval.Passage{}, fmt.Errorf("invalid JSON object: %w", err)
	}

	text, ok := fields[vectorstore.KeyText].(string)
	if !ok || text == "" {
		return retrieval.Passage{}, fmt.Errorf("missing %q string field", vectorstore.KeyText)
	}
	delete(fields, vectorstore.KeyText)

	md := make(vectorstore.Metadata, len(fields)+1)
	for k, v := range fields {
		s, err := metadataValue(v)
		if err != nil {
			return retrieval.Passage{}, fmt.Errorf("field %q: %w", k, err)
		}
		md[k] = s
	}
	if md[vectorstore.KeySource] == "" && defaultSource != "" {
		md[vectorstore.KeySource] = defaultSource
	}
	return retrieval.Passage{Text: text, Metadata: md}, nil
}

func metadataValue(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
