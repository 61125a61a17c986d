// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jllopis/recall/pkg/config"
	"github.com/jllopis/recall/pkg/telemetry"
)

// app holds what every subcommand shares once the root has loaded the
// configuration.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	profile    string
	overrides  []string
	jsonErrors bool

	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.RetrievalMetrics
	shutdown telemetry.ShutdownFunc
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "recall",
		Short: "Dense retrieval over embedded passages",
		Long: `recall embeds text passages, stores them in a vector store and answers
queries with nearest-neighbor search and optional cross-encoder reranking.

Example usage:
  recall add passages.jsonl               # Embed and store passages
  recall query "how are cats classified"  # Retrieve relevant passages
  recall serve-mcp                        # Expose retrieval as an MCP tool`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (YAML)")
	flags.StringVar(&a.profile, "profile", "", "profile overlay, loads <config>.<profile>.yaml")
	flags.StringArrayVar(&a.overrides, "set", nil, "override a config key, e.g. --set store.dim=384")
	flags.BoolVar(&a.jsonErrors, "json-errors", false, "print errors as JSON")

	root.AddCommand(
		a.addCommand(),
		a.queryCommand(),
		a.statsCommand(),
		a.configCommand(),
		a.serveCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) loadOptions() config.Options {
	return config.Options{Path: a.configPath, Profile: a.profile, Set: a.overrides}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWith(a.loadOptions())
	if err != nil {
		return NewConfigError(err, a.configPath)
	}
	if err := cfg.Validate(); err != nil {
		return NewConfigError(err, a.configPath)
	}
	a.cfg = cfg

	// Logs go to stderr so stdout stays clean for results and MCP stdio.
	a.logger = telemetry.ConfigureSlog(a.stderr, cfg.Log.Level, cfg.Log.Format)

	tcfg := cfg.Exporter()
	tcfg.Writer = a.stderr
	shutdown, err := telemetry.InitWithConfig("recall", version, tcfg)
	if err != nil {
		return NewConfigError(err, a.configPath)
	}
	a.shutdown = shutdown

	metrics, err := telemetry.NewRetrievalMetrics(nil)
	if err != nil {
		return err
	}
	a.metrics = metrics
	a.logger.DebugContext(cmd.Context(), "configuration loaded",
		"command", cmd.Name(),
		"backend", cfg.Store.Backend,
		"dim", cfg.Store.Dim,
	)
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(context.WithoutCancel(ctx))
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the recall version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "recall %s\n", version)
		},
	}
}
