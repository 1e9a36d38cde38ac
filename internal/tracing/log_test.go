package tracing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceFieldsHooks(t *testing.T) {
	t.Run("with trace ID", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "tg-test-trace-id")
		fields := TraceFieldsHooks(ctx, "test message")
		require.Len(t, fields, 1)
		assert.Equal(t, "trace_id", fields[0].Key)
		assert.Equal(t, "tg-test-trace-id", fields[0].String)
	})

	t.Run("with all ids", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "tg-1")
		ctx = WithRequestID(ctx, "req-1")
		ctx = WithOperationName(ctx, "GET /health")
		fields := TraceFieldsHooks(ctx, "test message")
		assert.Len(t, fields, 3)
	})

	t.Run("without ids", func(t *testing.T) {
		fields := TraceFieldsHooks(context.Background(), "test message")
		assert.Len(t, fields, 0)
	})

	t.Run("with nil context", func(t *testing.T) {
		//nolint:staticcheck // Nil context is tolerated by hooks.
		fields := TraceFieldsHooks(nil, "test message")
		assert.Len(t, fields, 0)
	})
}

func TestGenerateIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateTraceID(), "tg-"))
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req-"))
	assert.NotEqual(t, GenerateTraceID(), GenerateTraceID())
}
