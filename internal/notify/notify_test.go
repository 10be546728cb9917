package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopDiscardsCompletion(t *testing.T) {
	var n Notifier = Noop{}
	err := n.Notify(context.Background(), Completion{
		AggregationName:        "agg",
		BatchUUIDs:             []string{"a", "b"},
		TotalIndividualClients: 3,
	})
	require.NoError(t, err)
}
