// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jllopis/recall/pkg/config"
	recallmcp "github.com/jllopis/recall/pkg/mcp"
	"github.com/jllopis/recall/pkg/retrieval"
)

type serveFlags struct {
	httpAddr string
	watch    bool
}

func (a *app) serveCommand() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Expose retrieval as an MCP tool",
		Long: `Serve the "retrieve" tool over the Model Context Protocol, on stdio by
default or on streamable HTTP with --http.

With --watch, edits to the config files change the retrieval defaults
without a restart. Store and model settings still need one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.httpAddr, "http", "", "listen address for streamable HTTP, e.g. :8090 (default stdio)")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "reload retrieval defaults when the config file changes")
	return cmd
}

func (a *app) runServe(ctx context.Context, flags serveFlags) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := a.newRetriever(store)
	if err != nil {
		return err
	}

	live := config.NewReloadableConfig(a.cfg)
	if flags.watch && a.configPath != "" {
		watcher, err := config.NewWatcher(a.loadOptions(), config.WithWatchLogger(a.logger))
		if err != nil {
			return NewConfigError(err, a.configPath)
		}
		watcher.OnChange(func(cfg *config.Config) {
			live.Update(cfg)
			a.logger.InfoContext(ctx, "retrieval defaults reloaded",
				"top_k_initial", cfg.Retrieval.TopKInitial,
				"top_k_final", cfg.Retrieval.TopKFinal,
			)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	srv := recallmcp.NewServer("recall", version, a.logger)
	srv.RegisterRetrieveTool(r, func() retrieval.Request {
		rc := live.Retrieval()
		return retrieval.Request{TopKInitial: rc.TopKInitial, TopKFinal: rc.TopKFinal}
	})

	if flags.httpAddr != "" {
		return srv.ListenAndServe(ctx, flags.httpAddr)
	}
	a.logger.InfoContext(ctx, "serving mcp on stdio")
	return srv.ServeStdio()
}
