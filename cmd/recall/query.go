// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	recallmcp "github.com/jllopis/recall/pkg/mcp"
	"github.com/jllopis/recall/pkg/retrieval"
	"github.com/jllopis/recall/pkg/vectorstore"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"

	previewChars = 500
)

type queryFlags struct {
	topK        int
	topKInitial int
	source      string
	filter      string
	output      string
	remote      string
}

func (a *app) queryCommand() *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve the passages most relevant to a query",
		Long: `Embed the query, search the vector store and, when a reranker is
configured, rerank the candidates.

Examples:
  recall query "how are cats classified"
  recall query "bond yields" --source b.txt -k 5 -o json
  recall query "bond yields" --filter '{"lang":"en"}'
  recall query "bond yields" --remote http://localhost:8090/mcp`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, strings.Join(args, " "), flags)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&flags.topK, "top-k", "k", 0, "number of results (default from config)")
	f.IntVar(&flags.topKInitial, "top-k-initial", 0, "nearest neighbors considered before reranking (default from config)")
	f.StringVar(&flags.source, "source", "", "only return passages from this source")
	f.StringVar(&flags.filter, "filter", "", `metadata filter with one field, e.g. '{"lang":"en"}'`)
	f.StringVarP(&flags.output, "output", "o", outputText, "output format: text, json or yaml")
	f.StringVar(&flags.remote, "remote", "", "query a running 'recall serve-mcp --http' endpoint instead of the local store")
	cmd.MarkFlagsMutuallyExclusive("source", "filter")
	return cmd
}

func (a *app) runQuery(cmd *cobra.Command, query string, flags queryFlags) error {
	switch flags.output {
	case outputText, outputJSON, outputYAML:
	default:
		return NewInvalidArgumentError("output", fmt.Sprintf("unknown output format %q", flags.output))
	}
	if flags.topK < 0 || flags.topKInitial < 0 {
		return NewInvalidArgumentError("top-k", "top-k values must be positive")
	}

	filter, err := queryFilter(flags)
	if err != nil {
		return err
	}

	var results []recallmcp.Result
	if flags.remote != "" {
		results, err = a.queryRemote(cmd, query, filter, flags)
	} else {
		results, err = a.queryLocal(cmd, query, filter, flags)
	}
	if err != nil {
		return err
	}
	return writeResults(a.stdout, query, results, flags.output)
}

func queryFilter(flags queryFlags) (*vectorstore.Filter, error) {
	if flags.source != "" {
		return vectorstore.SourceFilter(flags.source), nil
	}
	if flags.filter != "" {
		return vectorstore.ParseFilter([]byte(flags.filter))
	}
	return nil, nil
}

func (a *app) queryLocal(cmd *cobra.Command, query string, filter *vectorstore.Filter, flags queryFlags) ([]recallmcp.Result, error) {
	ctx := cmd.Context()
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	r, err := a.newRetriever(store)
	if err != nil {
		return nil, err
	}
	candidates, err := r.Retrieve(ctx, query, retrieval.Request{
		TopKInitial: flags.topKInitial,
		TopKFinal:   flags.topK,
		Filter:      filter,
	})
	if err != nil {
		return nil, err
	}

	results := make([]recallmcp.Result, len(candidates))
	for i, c := range candidates {
		results[i] = recallmcp.NewResult(c)
	}
	return results, nil
}

func (a *app) queryRemote(cmd *cobra.Command, query string, filter *vectorstore.Filter, flags queryFlags) ([]recallmcp.Result, error) {
	ctx := cmd.Context()
	client, err := recallmcp.NewHTTPClient(ctx, flags.remote, recallmcp.WithClientVersion(version))
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return client.Retrieve(ctx, recallmcp.RetrieveArgs{
		Query:       query,
		TopK:        flags.topK,
		TopKInitial: flags.topKInitial,
		Filter:      filter,
	})
}

func writeResults(w io.Writer, query string, results []recallmcp.Result, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"query": query, "results": results})
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(map[string]any{"query": query, "results": results})
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	fmt.Fprintf(w, "Found %d results for: %s\n\n", len(results), query)
	for i, r := range results {
		score := fmt.Sprintf("score: %.4f", r.Score)
		if r.RerankScore != nil {
			score += fmt.Sprintf(", rerank: %.4f", *r.RerankScore)
		}
		fmt.Fprintf(w, "--- [%d] %s (%s) ---\n", i+1, r.Source, score)
		text := r.Text
		if len(text) > previewChars {
			text = text[:previewChars] + "..."
		}
		fmt.Fprintln(w, text)
		fmt.Fprintln(w)
	}
	return nil
}
