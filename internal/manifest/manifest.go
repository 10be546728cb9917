// Package manifest models the data-share-processor, ingestor and portal
// server manifest documents peers publish over HTTPS so the facilitator can
// discover each other's storage buckets, signing keys and identities,
// without requiring an out-of-band configuration exchange. The types are
// ported in meaning from the divviup-prio-server manifest schema found in
// the retrieval pack, generalised to cover the portal-server manifest named
// in the facilitator's external interfaces.
package manifest

// DataShareProcessorSpecificManifest is the manifest a data share processor
// (PHA or facilitator) publishes describing where its batches live and
// which keys peers should trust.
type DataShareProcessorSpecificManifest struct {
	Format                  int64                  `json:"format"`
	IngestionIdentity       string                 `json:"ingestion-identity,omitempty"`
	IngestionBucket         string                 `json:"ingestion-bucket"`
	PeerValidationBucket    string                 `json:"peer-validation-bucket"`
	BatchSigningPublicKeys  BatchSigningPublicKeys `json:"batch-signing-public-keys"`
	PacketEncryptionKeyCSRs PacketEncryptionKeyCSRs `json:"packet-encryption-keys"`
}

// IngestorGlobalManifest is the manifest an ingestor publishes once,
// describing its identity and the keys it signs ingestion batches with.
type IngestorGlobalManifest struct {
	Format                 int64                  `json:"format"`
	ServerIdentity         ServerIdentity         `json:"server-identity"`
	BatchSigningPublicKeys BatchSigningPublicKeys `json:"batch-signing-public-keys"`
}

// PortalServerGlobalManifest is the manifest the portal operator publishes,
// naming the cloud identity the facilitator uses to write sum parts to the
// portal bucket (named in the facilitator's external interfaces but not
// otherwise modeled in the distilled spec).
type PortalServerGlobalManifest struct {
	Format         int64          `json:"format"`
	ServerIdentity ServerIdentity `json:"server-identity"`
}

// ServerIdentity names the cloud identity a manifest's owner operates
// under, so a peer can configure cross-account storage access.
type ServerIdentity struct {
	AWSIamEntity           string `json:"aws-iam-entity,omitempty"`
	GCPServiceAccountID    string `json:"gcp-service-account-id,omitempty"`
	GCPServiceAccountEmail string `json:"gcp-service-account-email,omitempty"`
}

// BatchSigningPublicKeys maps key identifiers to the batch signing public
// keys peers use to verify this manifest owner's headers.
type BatchSigningPublicKeys = map[string]BatchSigningPublicKey

// PacketEncryptionKeyCSRs maps key identifiers to the packet encryption
// certificates clients use to encrypt shares to this manifest owner.
type PacketEncryptionKeyCSRs = map[string]PacketEncryptionCertificate

// BatchSigningPublicKey is a PEM-armored PKIX ECDSA P-256 public key with an
// expiration, the form peers fetch to populate the key registry.
type BatchSigningPublicKey struct {
	PublicKey  string `json:"public-key"`
	Expiration string `json:"expiration"`
}

// PacketEncryptionCertificate carries a PEM-armored PKCS#10 CSR containing
// the packet decryption public key.
type PacketEncryptionCertificate struct {
	CertificateSigningRequest string `json:"certificate-signing-request"`
}
