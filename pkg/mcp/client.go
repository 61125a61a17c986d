// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/vectorstore"
)

const defaultTimeout = 30 * time.Second

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithClientVersion sets the version reported during initialization.
func WithClientVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.version = version
		}
	}
}

// Client calls the retrieve tool of a remote recall server.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	version   string
}

// RetrieveArgs are the arguments of the retrieve tool. Zero values are
// omitted and the server defaults apply.
type RetrieveArgs struct {
	Query       string
	TopK        int
	TopKInitial int
	Filter      *vectorstore.Filter
}

// NewClient wraps an initialized MCP client.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{mcpClient: c, timeout: defaultTimeout, version: "dev"}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewHTTPClient connects to a streamable HTTP endpoint such as
// http://localhost:8090/mcp.
func NewHTTPClient(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid mcp endpoint", err)
	}
	return start(ctx, httpClient, opts)
}

// NewStdioClient spawns command and talks to it over stdio.
func NewStdioClient(ctx context.Context, command string, args []string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "start mcp server", err)
	}
	return start(ctx, stdioClient, opts)
}

func start(ctx context.Context, mc *client.Client, opts []ClientOption) (*Client, error) {
	c := NewClient(mc, opts...)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := mc.Start(ctx); err != nil {
		_ = mc.Close()
		return nil, errors.New(errors.CodeBackendUnavailable, "start mcp client", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "recall-client",
		Version: c.version,
	}
	if _, err := mc.Initialize(ctx, initRequest); err != nil {
		_ = mc.Close()
		return nil, errors.New(errors.CodeBackendUnavailable, "initialize mcp session", err)
	}
	return c, nil
}

// Retrieve calls the remote retrieve tool.
func (c *Client) Retrieve(ctx context.Context, args RetrieveArgs) ([]Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolRetrieve
	req.Params.Arguments = args.arguments()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.mcpClient.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.CodeTimeout, "retrieve tool call timed out", err)
		}
		return nil, errors.New(errors.CodeBackendUnavailable, "retrieve tool call failed", err).WithRecoverable(true)
	}

	text := resultText(res)
	if res.IsError {
		return nil, parseToolError(text)
	}
	var out retrieveOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, errors.New(errors.CodeInternal, "decode retrieve results", err)
	}
	if out.Results == nil {
		out.Results = []Result{}
	}
	return out.Results, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (a RetrieveArgs) arguments() map[string]any {
	args := map[string]any{"query": a.Query}
	if a.TopK > 0 {
		args["top_k"] = a.TopK
	}
	if a.TopKInitial > 0 {
		args["top_k_initial"] = a.TopKInitial
	}
	if a.Filter != nil {
		args["filter"] = map[string]any{a.Filter.Field: a.Filter.Value}
	}
	return args
}

func resultText(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

var knownCodes = []errors.ErrorCode{
	errors.CodeInvalidInput,
	errors.CodeDimensionMismatch,
	errors.CodeBatchLengthMismatch,
	errors.CodeBackendUnavailable,
	errors.CodeTimeout,
	errors.CodeInternal,
}

// parseToolError restores the code of a "<CODE>: <message>" tool error.
func parseToolError(text string) error {
	prefix, msg, ok := strings.Cut(text, ": ")
	if ok {
		for _, code := range knownCodes {
			if prefix == string(code) {
				return errors.New(code, msg, nil)
			}
		}
	}
	return errors.New(errors.CodeInternal, fmt.Sprintf("retrieve tool error: %s", text), nil)
}
