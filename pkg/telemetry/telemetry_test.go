package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWithConfig(t *testing.T) {
	shutdown, err := InitWithConfig("recall", "dev", Config{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = InitWithConfig("recall", "dev", Config{Exporter: ExporterOTLP})
	assert.Error(t, err, "otlp without endpoint")

	_, err = InitWithConfig("recall", "dev", Config{Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestStdoutExporterWritesToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitWithConfig("recall", "dev", Config{Exporter: ExporterStdout, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "retrieve")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name": "retrieve"`)
}

func TestStdoutExporterDefaultsToStderr(t *testing.T) {
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)
	oldStdout, oldStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = stdoutW, stderrW
	t.Cleanup(func() { os.Stdout, os.Stderr = oldStdout, oldStderr })

	shutdown, err := InitWithConfig("recall", "dev", Config{Exporter: ExporterStdout})
	require.NoError(t, err)
	_, span := otel.Tracer("test").Start(context.Background(), "retrieve")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	os.Stdout, os.Stderr = oldStdout, oldStderr
	require.NoError(t, stdoutW.Close())
	require.NoError(t, stderrW.Close())
	gotStdout, err := io.ReadAll(stdoutR)
	require.NoError(t, err)
	gotStderr, err := io.ReadAll(stderrR)
	require.NoError(t, err)

	assert.Empty(t, gotStdout)
	assert.Contains(t, string(gotStderr), `"Name": "retrieve"`)
}

func TestLoggerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "searched", "top_k", 3)
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "searched", rec["msg"])
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")

	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel(" Debug ").String())
	assert.Equal(t, "WARN", parseLogLevel("warning").String())
	assert.Equal(t, "ERROR", parseLogLevel("error").String())
	assert.Equal(t, "INFO", parseLogLevel("").String())
}
