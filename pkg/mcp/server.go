// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes retrieval as a Model Context Protocol tool and
// provides a client for it.
package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/retrieval"
	"github.com/jllopis/recall/pkg/vectorstore"
)

// ToolRetrieve is the name of the retrieval tool.
const ToolRetrieve = "retrieve"

// Retriever is the query side of retrieval.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string, req retrieval.Request) ([]vectorstore.Candidate, error)
}

// Result is one retrieved passage as returned by the tool.
type Result struct {
	ID          string               `json:"id" yaml:"id"`
	Text        string               `json:"text" yaml:"text"`
	Source      string               `json:"source" yaml:"source"`
	Score       float32              `json:"score" yaml:"score"`
	RerankScore *float32             `json:"rerank_score,omitempty" yaml:"rerank_score,omitempty"`
	Metadata    vectorstore.Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NewResult flattens a candidate. Text and source are lifted out of the
// metadata.
func NewResult(c vectorstore.Candidate) Result {
	extra := c.Metadata.Clone()
	delete(extra, vectorstore.KeyText)
	delete(extra, vectorstore.KeySource)
	if len(extra) == 0 {
		extra = nil
	}
	return Result{
		ID:          c.ID,
		Text:        c.Metadata.Text(),
		Source:      c.Metadata.Source(),
		Score:       c.Score,
		RerankScore: c.RerankScore,
		Metadata:    extra,
	}
}

type retrieveOutput struct {
	Results []Result `json:"results"`
}

// Server wraps the mcp-go server.
type Server struct {
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP server.
func NewServer(name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		logger: logger.With("component", "mcp"),
	}
}

// RegisterRetrieveTool exposes r as the retrieve tool. defaults, if set, is
// consulted on every call for the counts a caller leaves out.
func (s *Server) RegisterRetrieveTool(r Retriever, defaults func() retrieval.Request) {
	tool := mcp.NewTool(ToolRetrieve,
		mcp.WithDescription("Search the indexed passages for text relevant to a query. "+
			"Returns passages ordered by relevance with their source and scores."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query")),
		mcp.WithNumber("top_k", mcp.Description("Number of passages to return")),
		mcp.WithNumber("top_k_initial", mcp.Description("Number of nearest neighbors considered before reranking")),
		mcp.WithString("source", mcp.Description("Only return passages whose source equals this value")),
		mcp.WithObject("filter", mcp.Description(`Metadata equality filter with exactly one field, e.g. {"lang": "en"}`)),
	)
	s.mcpServer.AddTool(tool, s.retrieveHandler(r, defaults))
}

func (s *Server) retrieveHandler(r Retriever, defaults func() retrieval.Request) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(string(errors.CodeInvalidInput) + ": " + err.Error()), nil
		}

		var req retrieval.Request
		if defaults != nil {
			req = defaults()
		}
		if v := request.GetInt("top_k", 0); v != 0 {
			req.TopKFinal = v
		}
		if v := request.GetInt("top_k_initial", 0); v != 0 {
			req.TopKInitial = v
		}
		filter, err := toolFilter(request.GetString("source", ""), request.GetArguments()["filter"])
		if err != nil {
			return toolError(err), nil
		}
		req.Filter = filter

		candidates, err := r.Retrieve(ctx, query, req)
		if err != nil {
			s.logger.WarnContext(ctx, "retrieve tool failed", "error", err, "error_code", string(errors.CodeOf(err)))
			return toolError(err), nil
		}

		out := retrieveOutput{Results: make([]Result, len(candidates))}
		for i, c := range candidates {
			out.Results[i] = NewResult(c)
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal retrieve results: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func toolFilter(source string, raw any) (*vectorstore.Filter, error) {
	if raw == nil {
		if source == "" {
			return nil, nil
		}
		return vectorstore.SourceFilter(source), nil
	}
	if source != "" {
		return nil, errors.New(errors.CodeInvalidInput, "source and filter are mutually exclusive", nil)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid filter", err)
	}
	return vectorstore.ParseFilter(data)
}

// toolError renders err as "<CODE>: <message>" so clients can restore the
// code.
func toolError(err error) *mcp.CallToolResult {
	msg := err.Error()
	var e *errors.Error
	if stderrors.As(err, &e) && e.Message != "" {
		msg = e.Message
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
	}
	return mcp.NewToolResultError(string(errors.CodeOf(err)) + ": " + msg)
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// HTTPHandler returns the streamable HTTP transport as a handler.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// ListenAndServe serves the streamable HTTP transport on addr until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "mcp http server listening", "addr", addr)
		errCh <- httpServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return httpServer.Shutdown(context.WithoutCancel(ctx))
	}
}
