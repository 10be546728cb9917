package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// S3Transport reads and writes objects in a single S3 bucket, optionally
// assuming an IAM role identity first.
type S3Transport struct {
	client *s3.Client
	bucket string
}

var _ Transport = (*S3Transport)(nil)

// NewS3Transport builds an S3Transport for region/bucket. If roleARN is
// non-empty, credentials are obtained by assuming that role via STS;
// otherwise the ambient credential chain (environment, shared config,
// instance/task role) is used.
func NewS3Transport(ctx context.Context, region, bucket, roleARN string) (*S3Transport, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "s3", "load credentials", err)
	}
	if roleARN != "" {
		stsClient := sts.NewFromConfig(cfg)
		cfg.Credentials = stscreds.NewAssumeRoleProvider(stsClient, roleARN)
	}
	return &S3Transport{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (t *S3Transport) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &t.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "s3", fmt.Sprintf("get %s", key), err)
	}
	return out.Body, nil
}

func (t *S3Transport) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &s3Writer{ctx: ctx, client: t.client, bucket: t.bucket, key: key}, nil
}

// s3Writer buffers the whole object in memory and performs a single PutObject
// on Close, matching the "all writes are buffered; on successful close the
// object becomes visible" contract from the transport spec.
type s3Writer struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: &w.bucket,
		Key:    &w.key,
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return errs.Wrap(errs.ErrTransport, "s3", fmt.Sprintf("put %s", w.key), err)
	}
	return nil
}
