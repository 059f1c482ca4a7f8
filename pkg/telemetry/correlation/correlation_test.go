package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "abc")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "abc", cid)
	assert.Equal(t, "abc", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	assert.Len(t, cid, 26)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestStampMetadata(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx = ContextWithRemoteSpan(ctx, "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")

	meta := StampMetadata(ctx, map[string]any{"correlation_id": "caller"})
	assert.Equal(t, "caller", meta["correlation_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", meta["trace_id"])

	meta = StampMetadata(ctx, nil)
	assert.Equal(t, "cid-1", meta["correlation_id"])
}

func TestContextWithRemoteSpanIgnoresInvalidIDs(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "zz", "yy")
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
