package transport

import (
	"context"
	"fmt"

	"github.com/letsencrypt/prio-facilitator/internal/config"
	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// New builds the Transport variant named by path, assuming/impersonating
// identity if one is configured for a cloud backend.
func New(ctx context.Context, path config.StoragePath, identity config.Identity) (Transport, error) {
	switch path.Scheme {
	case config.SchemeLocal:
		return NewLocalTransport(path.Bucket), nil
	case config.SchemeS3:
		return NewS3Transport(ctx, path.Region, path.Bucket, identity.AWSRoleARN)
	case config.SchemeGCS:
		return NewGCSTransport(ctx, path.Bucket, identity.GCPServiceAccountEmail)
	default:
		return nil, fmt.Errorf("%w: unknown storage scheme %d", errs.ErrTransport, path.Scheme)
	}
}
