// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads recall settings from defaults, YAML files, the
// environment and command-line overrides.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/retrieval"
	"github.com/jllopis/recall/pkg/telemetry"
	"github.com/jllopis/recall/pkg/vectorstore"
)

// EnvPrefix prefixes environment overrides: RECALL_STORE_DIM -> store.dim.
// Keys that contain an underscore cannot be set from the environment.
const EnvPrefix = "RECALL_"

type Config struct {
	Log       LogConfig       `koanf:"log" yaml:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry" yaml:"telemetry"`
	Store     StoreConfig     `koanf:"store" yaml:"store"`
	Embedder  EmbedderConfig  `koanf:"embedder" yaml:"embedder"`
	Reranker  RerankerConfig  `koanf:"reranker" yaml:"reranker"`
	Retrieval RetrievalConfig `koanf:"retrieval" yaml:"retrieval"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter" yaml:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure" yaml:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds" yaml:"otlp_timeout_seconds"`
}

type StoreConfig struct {
	Backend string       `koanf:"backend" yaml:"backend"` // flat, qdrant
	Dim     int          `koanf:"dim" yaml:"dim"`
	Flat    FlatConfig   `koanf:"flat" yaml:"flat"`
	Qdrant  QdrantConfig `koanf:"qdrant" yaml:"qdrant"`
}

// FlatConfig points the in-process store at an optional snapshot file that
// is loaded on start and written after ingest.
type FlatConfig struct {
	SnapshotPath   string `koanf:"snapshot_path" yaml:"snapshot_path"`
	SnapshotDriver string `koanf:"snapshot_driver" yaml:"snapshot_driver"` // sqlite, bolt
}

type QdrantConfig struct {
	Addr       string        `koanf:"addr" yaml:"addr"`
	Collection string        `koanf:"collection" yaml:"collection"`
	InitMode   string        `koanf:"init_mode" yaml:"init_mode"` // create_if_missing, recreate
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout"`
}

type EmbedderConfig struct {
	Provider  string        `koanf:"provider" yaml:"provider"` // ollama
	BaseURL   string        `koanf:"base_url" yaml:"base_url"`
	Model     string        `koanf:"model" yaml:"model"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
	BatchSize int           `koanf:"batch_size" yaml:"batch_size"`
}

type RerankerConfig struct {
	Enabled   bool          `koanf:"enabled" yaml:"enabled"`
	BaseURL   string        `koanf:"base_url" yaml:"base_url"`
	Model     string        `koanf:"model" yaml:"model"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
	OnFailure string        `koanf:"on_failure" yaml:"on_failure"` // fail_closed, fallback
}

type RetrievalConfig struct {
	TopKInitial int `koanf:"top_k_initial" yaml:"top_k_initial"`
	TopKFinal   int `koanf:"top_k_final" yaml:"top_k_final"`
}

// Options selects the sources Load reads.
type Options struct {
	// Path is the base YAML file. Empty skips file loading.
	Path string
	// Profile loads <base>.<profile>.yaml next to Path on top of it when
	// that file exists.
	Profile string
	// Set holds key=value overrides applied last. Values that look like a
	// JSON object or array are decoded.
	Set []string
}

// Load reads defaults, then path, then the environment.
func Load(path string) (*Config, error) {
	return LoadWith(Options{Path: path})
}

// LoadWithProfile is Load with a profile overlay.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWith(Options{Path: path, Profile: profile})
}

// LoadWith reads every source in order of increasing precedence:
// defaults, base file, profile file, environment, overrides.
func LoadWith(opts Options) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.Path, err)
		}
		if p := profileConfigPath(opts.Path, opts.Profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile config %s: %w", p, err)
			}
		} else if opts.Profile != "" {
			slog.Debug("profile config not found, using base config", "profile", opts.Profile, "path", opts.Path)
		}
	}

	// RECALL_STORE_BACKEND -> store.backend
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	overrides, err := parseOverrides(opts.Set)
	if err != nil {
		return nil, err
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.exporter": telemetry.ExporterNone,

		"store.backend":              string(vectorstore.BackendFlat),
		"store.dim":                  768,
		"store.flat.snapshot_driver": string(vectorstore.SnapshotSQLite),
		"store.qdrant.addr":          "localhost:6334",
		"store.qdrant.collection":    "recall",
		"store.qdrant.init_mode":     string(vectorstore.InitCreateIfMissing),
		"store.qdrant.timeout":       "10s",

		"embedder.provider":   "ollama",
		"embedder.base_url":   "http://localhost:11434",
		"embedder.model":      "nomic-embed-text",
		"embedder.timeout":    "60s",
		"embedder.batch_size": retrieval.DefaultBatchSize,

		"reranker.enabled":    false,
		"reranker.base_url":   "http://localhost:8080",
		"reranker.timeout":    "30s",
		"reranker.on_failure": string(retrieval.RerankFailClosed),

		"retrieval.top_k_initial": retrieval.DefaultTopKInitial,
		"retrieval.top_k_final":   retrieval.DefaultTopKFinal,
	}
	for key, value := range defaults {
		_ = k.Set(key, value)
	}
}

// parseOverrides turns key=value pairs into koanf values.
func parseOverrides(set []string) (map[string]any, error) {
	out := make(map[string]any, len(set))
	for _, kv := range set {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Newf(errors.CodeInvalidInput, "invalid override %q, expected key=value", kv)
		}
		out[key] = parseOverrideValue(strings.TrimSpace(value))
	}
	return out, nil
}

func parseOverrideValue(raw string) any {
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	return raw
}

// profileConfigPath returns the profile file for base (config.yaml ->
// config.dev.yaml) or "" when it does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	p := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Store.Dim < 1 {
		add("store.dim must be positive, got %d", c.Store.Dim)
	}
	switch vectorstore.Backend(c.Store.Backend) {
	case vectorstore.BackendFlat:
		switch vectorstore.SnapshotDriver(c.Store.Flat.SnapshotDriver) {
		case "", vectorstore.SnapshotSQLite, vectorstore.SnapshotBolt:
		default:
			add("store.flat.snapshot_driver %q is not one of sqlite, bolt", c.Store.Flat.SnapshotDriver)
		}
	case vectorstore.BackendQdrant:
		if c.Store.Qdrant.Addr == "" {
			add("store.qdrant.addr is required")
		}
		if c.Store.Qdrant.Collection == "" {
			add("store.qdrant.collection is required")
		}
		switch vectorstore.InitMode(c.Store.Qdrant.InitMode) {
		case "", vectorstore.InitCreateIfMissing, vectorstore.InitRecreate:
		default:
			add("store.qdrant.init_mode %q is not one of create_if_missing, recreate", c.Store.Qdrant.InitMode)
		}
	default:
		add("store.backend %q is not one of flat, qdrant", c.Store.Backend)
	}

	if c.Embedder.Provider != "ollama" {
		add("embedder.provider %q is not supported", c.Embedder.Provider)
	}
	if c.Reranker.Enabled && c.Reranker.BaseURL == "" {
		add("reranker.base_url is required when the reranker is enabled")
	}
	if _, err := retrieval.ParseRerankPolicy(c.Reranker.OnFailure); err != nil {
		add("reranker.on_failure %q is not one of fail_closed, fallback", c.Reranker.OnFailure)
	}
	if c.Retrieval.TopKInitial < 1 || c.Retrieval.TopKFinal < 1 {
		add("retrieval top_k values must be positive, got %d/%d", c.Retrieval.TopKInitial, c.Retrieval.TopKFinal)
	}
	switch c.Telemetry.Exporter {
	case "", telemetry.ExporterNone, telemetry.ExporterStdout:
	case telemetry.ExporterOTLP:
		if c.Telemetry.OTLPEndpoint == "" {
			add("telemetry.otlp_endpoint is required for the otlp exporter")
		}
	default:
		add("telemetry.exporter %q is not one of none, stdout, otlp", c.Telemetry.Exporter)
	}

	if len(problems) > 0 {
		return errors.New(errors.CodeInvalidInput, "invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// VectorStore returns the store settings for vectorstore.Open.
func (c *Config) VectorStore(logger *slog.Logger) vectorstore.Config {
	return vectorstore.Config{
		Backend: vectorstore.Backend(c.Store.Backend),
		Dim:     c.Store.Dim,
		Qdrant: vectorstore.QdrantConfig{
			Addr:       c.Store.Qdrant.Addr,
			Collection: c.Store.Qdrant.Collection,
			InitMode:   vectorstore.InitMode(c.Store.Qdrant.InitMode),
			Timeout:    c.Store.Qdrant.Timeout,
		},
		Logger: logger,
	}
}

// Exporter returns the exporter settings for telemetry.InitWithConfig.
func (c *Config) Exporter() telemetry.Config {
	return telemetry.Config{
		Exporter:           c.Telemetry.Exporter,
		OTLPEndpoint:       c.Telemetry.OTLPEndpoint,
		OTLPInsecure:       c.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: c.Telemetry.OTLPTimeoutSeconds,
	}
}
