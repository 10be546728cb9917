package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchDataShareProcessorSpecificManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"format": 1,
			"ingestion-bucket": "s3://us-west-2/ingestion-bucket",
			"peer-validation-bucket": "gs://peer-validation-bucket",
			"batch-signing-public-keys": {
				"key-1": {"public-key": "base64pem", "expiration": "2030-01-01T00:00:00Z"}
			},
			"packet-encryption-keys": {
				"key-2": {"certificate-signing-request": "base64csr"}
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient()
	m, err := client.FetchDataShareProcessorSpecificManifest(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int64(1), m.Format)
	require.Equal(t, "s3://us-west-2/ingestion-bucket", m.IngestionBucket)
	require.Equal(t, "base64pem", m.BatchSigningPublicKeys["key-1"].PublicKey)
	require.Equal(t, "base64csr", m.PacketEncryptionKeyCSRs["key-2"].CertificateSigningRequest)
}

func TestFetchIngestorGlobalManifestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient()
	client.http.RetryMax = 0
	_, err := client.FetchIngestorGlobalManifest(context.Background(), srv.URL)
	require.Error(t, err)
}
