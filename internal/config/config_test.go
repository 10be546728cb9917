package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStoragePathS3(t *testing.T) {
	p, err := ParseStoragePath("s3://us-west-2/my-bucket")
	require.NoError(t, err)
	require.Equal(t, StoragePath{Scheme: SchemeS3, Region: "us-west-2", Bucket: "my-bucket"}, p)
}

func TestParseStoragePathGCS(t *testing.T) {
	p, err := ParseStoragePath("gs://my-bucket")
	require.NoError(t, err)
	require.Equal(t, StoragePath{Scheme: SchemeGCS, Bucket: "my-bucket"}, p)
}

func TestParseStoragePathLocal(t *testing.T) {
	p, err := ParseStoragePath("/var/data/batches")
	require.NoError(t, err)
	require.Equal(t, StoragePath{Scheme: SchemeLocal, Bucket: "/var/data/batches"}, p)
}

func TestParseStoragePathMalformedS3(t *testing.T) {
	_, err := ParseStoragePath("s3://missing-bucket")
	require.Error(t, err)

	_, err = ParseStoragePath("s3://region/")
	require.Error(t, err)
}

func TestParseStoragePathMalformedGCS(t *testing.T) {
	_, err := ParseStoragePath("gs://")
	require.Error(t, err)
}

func TestIdentityIsZero(t *testing.T) {
	require.True(t, Identity{}.IsZero())
	require.False(t, Identity{AWSRoleARN: "arn:aws:iam::123:role/x"}.IsZero())
	require.False(t, Identity{GCPServiceAccountEmail: "a@b.iam.gserviceaccount.com"}.IsZero())
}
