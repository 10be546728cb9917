package ledger

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// Firestore records seen (aggregation, batch) pairs as documents in a
// single collection, one document per batch.
type Firestore struct {
	client     *firestore.Client
	collection string
}

var _ Ledger = (*Firestore)(nil)

// NewFirestore dials Firestore for project, recording documents under
// collection (e.g. "summed-batches").
func NewFirestore(ctx context.Context, project, collection string) (*Firestore, error) {
	client, err := firestore.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("%w: new firestore client: %v", errs.ErrCryptoInit, err)
	}
	return &Firestore{client: client, collection: collection}, nil
}

func (f *Firestore) docID(aggregationName, batchID string) string {
	return aggregationName + "_" + batchID
}

// Seen reports whether a document for this (aggregation, batch) pair
// exists.
func (f *Firestore) Seen(ctx context.Context, aggregationName, batchID string) (bool, error) {
	_, err := f.client.Collection(f.collection).Doc(f.docID(aggregationName, batchID)).Get(ctx)
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	return false, fmt.Errorf("%w: check ledger for %s/%s: %v", errs.ErrTransport, aggregationName, batchID, err)
}

// Record creates a document marking this (aggregation, batch) pair as
// summed.
func (f *Firestore) Record(ctx context.Context, aggregationName, batchID string) error {
	_, err := f.client.Collection(f.collection).Doc(f.docID(aggregationName, batchID)).Set(ctx, map[string]interface{}{
		"aggregation_name": aggregationName,
		"batch_id":         batchID,
	})
	if err != nil {
		return fmt.Errorf("%w: record ledger for %s/%s: %v", errs.ErrTransport, aggregationName, batchID, err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (f *Firestore) Close() error {
	return f.client.Close()
}
