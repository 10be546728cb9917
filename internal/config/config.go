// Package config models the facilitator's per-entity storage and identity
// configuration, ported in meaning from original_source's config handling
// in the facilitator binary: each of the batch's producing/consuming
// parties (own, ingestor, peer, portal) has a storage path (a local
// directory or a bucket URI) and an optional cloud identity used to assume
// a role or impersonate a service account when accessing it.
package config

import (
	"fmt"
	"strings"
)

// Scheme names the transport a StoragePath resolves to.
type Scheme int

const (
	SchemeLocal Scheme = iota
	SchemeS3
	SchemeGCS
)

// StoragePath is a parsed storage flag (--ingestor-input, --own-output,
// --portal-output, ...): a scheme plus the
// bucket/region or local directory it names.
type StoragePath struct {
	Scheme Scheme
	Bucket string // bucket name (s3/gcs) or directory (local)
	Region string // s3 only
}

// ParseStoragePath parses "s3://region/bucket", "gs://bucket", or a bare
// filesystem path.
func ParseStoragePath(raw string) (StoragePath, error) {
	switch {
	case strings.HasPrefix(raw, "s3://"):
		rest := strings.TrimPrefix(raw, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return StoragePath{}, fmt.Errorf("malformed s3 storage path %q, want s3://region/bucket", raw)
		}
		return StoragePath{Scheme: SchemeS3, Region: parts[0], Bucket: parts[1]}, nil
	case strings.HasPrefix(raw, "gs://"):
		bucket := strings.TrimPrefix(raw, "gs://")
		if bucket == "" {
			return StoragePath{}, fmt.Errorf("malformed gcs storage path %q, want gs://bucket", raw)
		}
		return StoragePath{Scheme: SchemeGCS, Bucket: bucket}, nil
	default:
		return StoragePath{Scheme: SchemeLocal, Bucket: raw}, nil
	}
}

// Identity is the cloud identity the process should assume or impersonate
// when accessing a StoragePath it does not own directly (e.g. the peer's
// validation bucket, or the ingestor's ingestion bucket).
type Identity struct {
	AWSRoleARN             string
	GCPServiceAccountEmail string
}

// IsZero reports whether no identity assumption is configured, meaning the
// process's ambient credentials are used as-is.
func (id Identity) IsZero() bool {
	return id.AWSRoleARN == "" && id.GCPServiceAccountEmail == ""
}
