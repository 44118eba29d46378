package contexts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	_, ok := GetTraceID(ctx)
	require.False(t, ok)

	ctx = WithTraceID(ctx, "at-123")
	traceID, ok := GetTraceID(ctx)
	require.True(t, ok)
	require.Equal(t, "at-123", traceID)
}

func TestContainerIsShared(t *testing.T) {
	ctx := WithTraceID(context.Background(), "at-1")
	child := WithOperationName(ctx, "draftReport")

	// The second value lands in the same container, so the parent sees it too.
	name, ok := GetOperationName(ctx)
	require.True(t, ok)
	require.Equal(t, "draftReport", name)

	traceID, ok := GetTraceID(child)
	require.True(t, ok)
	require.Equal(t, "at-1", traceID)
}

func TestErrors(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")

	AddError(ctx, nil)
	AddError(ctx, errors.New("boom"))

	errs := GetErrors(ctx)
	require.Len(t, errs, 1)
	require.EqualError(t, errs[0], "boom")
}

func TestNilContext(t *testing.T) {
	//nolint:staticcheck // Checked.
	_, ok := GetStage(nil)
	require.False(t, ok)
}
