package transport

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// GCSTransport reads and writes objects in a single GCS bucket, optionally
// impersonating a service account identity via short-lived credentials.
type GCSTransport struct {
	client *storage.Client
	bucket string
}

var _ Transport = (*GCSTransport)(nil)

// NewGCSTransport builds a GCSTransport for bucket. If serviceAccountEmail is
// non-empty, this server's default service account impersonates it for all
// calls made through the returned Transport.
func NewGCSTransport(ctx context.Context, bucket, serviceAccountEmail string) (*GCSTransport, error) {
	var opts []option.ClientOption
	if serviceAccountEmail != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: serviceAccountEmail,
			Scopes:          []string{storage.ScopeReadWrite},
		})
		if err != nil {
			return nil, errs.Wrap(errs.ErrTransport, "gcs", "impersonate "+serviceAccountEmail, err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "gcs", "new client", err)
	}
	return &GCSTransport{client: client, bucket: bucket}, nil
}

func (t *GCSTransport) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := t.client.Bucket(t.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "gcs", fmt.Sprintf("get %s", key), err)
	}
	return r, nil
}

func (t *GCSTransport) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	w := t.client.Bucket(t.bucket).Object(key).NewWriter(ctx)
	return &gcsWriter{w: w}, nil
}

// gcsWriter wraps storage.Writer so that a failing Close surfaces as an
// errs.ErrTransport, matching the other backends' error taxonomy.
type gcsWriter struct {
	w *storage.Writer
}

func (w *gcsWriter) Write(p []byte) (int, error) { return w.w.Write(p) }

func (w *gcsWriter) Close() error {
	if err := w.w.Close(); err != nil {
		return errs.Wrap(errs.ErrTransport, "gcs", "close", err)
	}
	return nil
}
