// Package notify publishes a small completion message after a sum part is
// sealed, so downstream consumers can learn a batch set has been
// aggregated without polling storage.
package notify

import "context"

// Completion is the message published after a sum part is sealed.
type Completion struct {
	AggregationName        string   `json:"aggregation_name"`
	BatchUUIDs             []string `json:"batch_uuids"`
	TotalIndividualClients int64    `json:"total_individual_clients"`
}

// Notifier publishes Completion messages.
type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}

// Noop discards every Completion, the default when no notification topic
// is configured.
type Noop struct{}

func (Noop) Notify(context.Context, Completion) error { return nil }

var _ Notifier = Noop{}
