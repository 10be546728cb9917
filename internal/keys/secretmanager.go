package keys

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// SecretSource fetches key material by logical name, abstracting over
// Secret Manager so the CLI can resolve --batch-signing-private-key-secret-name
// and --packet-decryption-key-secret-names, which name secrets in place of
// the key material --batch-signing-private-key and --packet-decryption-keys
// carry directly.
type SecretSource interface {
	AccessLatest(ctx context.Context, secretName string) ([]byte, error)
}

// SecretManagerSource reads the latest enabled version of secrets in one
// GCP project via Secret Manager.
type SecretManagerSource struct {
	client  *secretmanager.Client
	project string
}

// NewSecretManagerSource dials Secret Manager for project.
func NewSecretManagerSource(ctx context.Context, project string) (*SecretManagerSource, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: new secret manager client: %v", errs.ErrCryptoInit, err)
	}
	return &SecretManagerSource{client: client, project: project}, nil
}

// AccessLatest returns the payload of the "latest" version of secretName.
func (s *SecretManagerSource) AccessLatest(ctx context.Context, secretName string) ([]byte, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.project, secretName)
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("%w: access secret %q: %v", errs.ErrCryptoInit, secretName, err)
	}
	return resp.Payload.Data, nil
}

// Close releases the underlying gRPC connection.
func (s *SecretManagerSource) Close() error {
	return s.client.Close()
}
