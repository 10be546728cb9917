// Package transport abstracts the byte-stream storage backends the
// facilitator reads and writes batches from: local filesystem, S3 and GCS.
// A Transport is used by one operation at a time; all writes are buffered
// and only become visible on a clean Close.
package transport

import (
	"context"
	"io"
)

// Transport opens named byte streams for reading or writing.
type Transport interface {
	// Get opens key for reading. The caller must Close the returned
	// reader; failing to read to EOF is permitted, but Close must still
	// be called.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put opens key for writing. The object is not visible to readers
	// until the returned writer is Closed successfully; a Close that
	// returns an error, or no Close at all, must leave no object
	// published.
	Put(ctx context.Context, key string) (io.WriteCloser, error)
}
