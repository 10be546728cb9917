package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopNeverSeenAndDiscardsRecord(t *testing.T) {
	var l Ledger = Noop{}
	ctx := context.Background()

	seen, err := l.Seen(ctx, "agg", "batch-1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, l.Record(ctx, "agg", "batch-1"))

	seen, err = l.Seen(ctx, "agg", "batch-1")
	require.NoError(t, err)
	require.False(t, seen)
}
