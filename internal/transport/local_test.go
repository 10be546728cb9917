package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalTransportRoundTrip(t *testing.T) {
	tr := NewLocalTransport(t.TempDir())
	ctx := context.Background()

	w, err := tr.Put(ctx, "aggregation/2024/03/05/14/30/batch.avro")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := tr.Get(ctx, "aggregation/2024/03/05/14/30/batch.avro")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestLocalTransportGetMissingKey(t *testing.T) {
	tr := NewLocalTransport(t.TempDir())
	_, err := tr.Get(context.Background(), "does/not/exist")
	require.Error(t, err)
}

func TestLocalTransportNoObjectWithoutClose(t *testing.T) {
	root := t.TempDir()
	tr := NewLocalTransport(root)
	ctx := context.Background()

	w, err := tr.Put(ctx, "partial.batch")
	require.NoError(t, err)
	_, err = w.Write([]byte("incomplete"))
	require.NoError(t, err)
	// Deliberately never call Close; no file should appear at the final path.

	_, statErr := os.Stat(filepath.Join(root, "partial.batch"))
	require.True(t, os.IsNotExist(statErr))
}

func TestLocalTransportCloseIsIdempotent(t *testing.T) {
	tr := NewLocalTransport(t.TempDir())
	ctx := context.Background()

	w, err := tr.Put(ctx, "batch.avro")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
