// Command facilitator runs the Prio facilitator's batch intake and
// aggregation core: generate-ingestion-sample, intake-batch and aggregate.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/letsencrypt/prio-facilitator/internal/aggregation"
	"github.com/letsencrypt/prio-facilitator/internal/config"
	"github.com/letsencrypt/prio-facilitator/internal/intake"
	"github.com/letsencrypt/prio-facilitator/internal/keys"
	"github.com/letsencrypt/prio-facilitator/internal/ledger"
	"github.com/letsencrypt/prio-facilitator/internal/manifest"
	"github.com/letsencrypt/prio-facilitator/internal/notify"
	"github.com/letsencrypt/prio-facilitator/internal/prio"
	"github.com/letsencrypt/prio-facilitator/internal/sample"
	"github.com/letsencrypt/prio-facilitator/internal/transport"
)

func main() {
	app := &cli.App{
		Name:  "facilitator",
		Usage: "Prio facilitator batch intake and aggregation core",
		Commands: []*cli.Command{
			generateIngestionSampleCommand,
			intakeBatchCommand,
			aggregateCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		glog.Errorf("facilitator: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Manifests are published at a base URL plus one of these well-known
// suffixes. The suffixes are this module's own convention, one for the
// specific manifest and one for the global manifest.
const (
	specificManifestSuffix = "/specific-manifest.json"
	globalManifestSuffix   = "/global-manifest.json"
)

var commonStorageFlags = []cli.Flag{
	&cli.StringFlag{Name: "packet-decryption-keys", EnvVars: []string{"PACKET_DECRYPTION_KEYS"}, Usage: "comma-separated base64 ECDH P-256 private keys, tried in order"},
	&cli.StringFlag{Name: "batch-signing-private-key", Usage: "base64 PKCS8 ECDSA P-256 private key used to sign output batches"},
	&cli.StringFlag{Name: "batch-signing-private-key-default-identifier", Required: true, Usage: "key identifier peers should use to look up the public half of batch-signing-private-key"},
	&cli.BoolFlag{Name: "is-first", Usage: "true if this server is the PHA (first server), false for the facilitator (second server)"},
	&cli.StringFlag{Name: "secret-manager-project", Usage: "GCP project to resolve *-secret-name flags against via Secret Manager, instead of passing key material directly"},
	&cli.StringFlag{Name: "batch-signing-private-key-secret-name", Usage: "Secret Manager secret name holding the batch signing private key, superseding --batch-signing-private-key"},
	&cli.StringFlag{Name: "packet-decryption-key-secret-names", Usage: "comma-separated Secret Manager secret names holding packet decryption keys, superseding --packet-decryption-keys"},
}

func parseDecryptionKeys(raw string) ([]*prio.PrivateKey, error) {
	if raw == "" {
		return nil, nil
	}
	var out []*prio.PrivateKey
	for _, part := range strings.Split(raw, ",") {
		key, err := prio.ParsePrivateKey(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}

// resolveDecryptionKeys reads packet decryption keys either directly from
// --packet-decryption-keys or, when --packet-decryption-key-secret-names is
// set, from Secret Manager.
func resolveDecryptionKeys(ctx context.Context, c *cli.Context) ([]*prio.PrivateKey, error) {
	names := c.String("packet-decryption-key-secret-names")
	if names == "" {
		return parseDecryptionKeys(c.String("packet-decryption-keys"))
	}
	source, err := keys.NewSecretManagerSource(ctx, c.String("secret-manager-project"))
	if err != nil {
		return nil, err
	}
	defer source.Close()
	var out []*prio.PrivateKey
	for _, name := range strings.Split(names, ",") {
		payload, err := source.AccessLatest(ctx, strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		key, err := prio.ParsePrivateKey(string(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}

// resolveSigningKey reads the batch signing private key either directly
// from --batch-signing-private-key or, when
// --batch-signing-private-key-secret-name is set, from Secret Manager.
func resolveSigningKey(ctx context.Context, c *cli.Context) (keys.BatchSigningKey, error) {
	identifier := c.String("batch-signing-private-key-default-identifier")
	secretName := c.String("batch-signing-private-key-secret-name")
	if secretName == "" {
		raw := c.String("batch-signing-private-key")
		if raw == "" {
			return keys.BatchSigningKey{}, fmt.Errorf("one of --batch-signing-private-key or --batch-signing-private-key-secret-name is required")
		}
		return keys.ParseBatchSigningPrivateKey(identifier, []byte(raw))
	}
	source, err := keys.NewSecretManagerSource(ctx, c.String("secret-manager-project"))
	if err != nil {
		return keys.BatchSigningKey{}, err
	}
	defer source.Close()
	payload, err := source.AccessLatest(ctx, secretName)
	if err != nil {
		return keys.BatchSigningKey{}, err
	}
	return keys.ParseBatchSigningPrivateKey(identifier, payload)
}

// fetchSpecificManifest fetches and decodes the manifest published at
// baseURL+specificManifestSuffix.
func fetchSpecificManifest(ctx context.Context, baseURL string) (manifest.DataShareProcessorSpecificManifest, error) {
	return manifest.NewClient().FetchDataShareProcessorSpecificManifest(ctx, baseURL+specificManifestSuffix)
}

// trustedKeysFromManifest parses every batch signing public key a specific
// manifest names into the map the envelope package verifies headers
// against.
func trustedKeysFromManifest(m manifest.DataShareProcessorSpecificManifest) (map[string]*ecdsa.PublicKey, error) {
	out := make(map[string]*ecdsa.PublicKey, len(m.BatchSigningPublicKeys))
	for id, pk := range m.BatchSigningPublicKeys {
		key, err := keys.ParseBatchSigningPublicKey([]byte(pk.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("parse batch signing public key %q from manifest: %w", id, err)
		}
		out[id] = key
	}
	return out, nil
}

// ingestorSource resolves the ingestor's storage bucket, cloud identity and
// trusted signing keys, either from a fetched manifest (when
// --ingestor-manifest-base-url is set, superseding the direct flags per
// SPEC_FULL.md §4.6) or from --ingestor-input/--ingestor-identity/
// --ingestion-bucket-public-key directly.
func ingestorSource(ctx context.Context, c *cli.Context, defaultKeyID string) (bucket, identity string, trusted map[string]*ecdsa.PublicKey, err error) {
	if baseURL := c.String("ingestor-manifest-base-url"); baseURL != "" {
		m, err := fetchSpecificManifest(ctx, baseURL)
		if err != nil {
			return "", "", nil, err
		}
		trusted, err := trustedKeysFromManifest(m)
		if err != nil {
			return "", "", nil, err
		}
		return m.IngestionBucket, m.IngestionIdentity, trusted, nil
	}
	bucket = c.String("ingestor-input")
	if bucket == "" {
		return "", "", nil, fmt.Errorf("one of --ingestor-input or --ingestor-manifest-base-url is required")
	}
	pub, err := keys.ParseBatchSigningPublicKey([]byte(c.String("ingestion-bucket-public-key")))
	if err != nil {
		return "", "", nil, err
	}
	return bucket, c.String("ingestor-identity"), map[string]*ecdsa.PublicKey{defaultKeyID: pub}, nil
}

// peerValidationSource resolves the peer's validation batch bucket, cloud
// identity and trusted signing keys, either from a fetched manifest (when
// --peer-validation-manifest-base-url is set) or from
// --peer-validation-input/--peer-validation-identity/
// --peer-validation-public-key directly.
func peerValidationSource(ctx context.Context, c *cli.Context, defaultKeyID string) (bucket, identity string, trusted map[string]*ecdsa.PublicKey, err error) {
	if baseURL := c.String("peer-validation-manifest-base-url"); baseURL != "" {
		m, err := fetchSpecificManifest(ctx, baseURL)
		if err != nil {
			return "", "", nil, err
		}
		trusted, err := trustedKeysFromManifest(m)
		if err != nil {
			return "", "", nil, err
		}
		return m.PeerValidationBucket, m.IngestionIdentity, trusted, nil
	}
	bucket = c.String("peer-validation-input")
	if bucket == "" {
		return "", "", nil, fmt.Errorf("one of --peer-validation-input or --peer-validation-manifest-base-url is required")
	}
	pub, err := keys.ParseBatchSigningPublicKey([]byte(c.String("peer-validation-public-key")))
	if err != nil {
		return "", "", nil, err
	}
	return bucket, c.String("peer-validation-identity"), map[string]*ecdsa.PublicKey{defaultKeyID: pub}, nil
}

// portalIdentity resolves the portal's cloud identity, either from a
// fetched portal-server global manifest (when --portal-manifest-base-url is
// set) or from --portal-identity directly. The portal manifest carries no
// bucket, so --portal-output always names the bucket directly.
func portalIdentity(ctx context.Context, c *cli.Context) (string, error) {
	baseURL := c.String("portal-manifest-base-url")
	if baseURL == "" {
		return c.String("portal-identity"), nil
	}
	m, err := manifest.NewClient().FetchPortalServerGlobalManifest(ctx, baseURL+globalManifestSuffix)
	if err != nil {
		return "", err
	}
	if m.ServerIdentity.GCPServiceAccountEmail != "" {
		return m.ServerIdentity.GCPServiceAccountEmail, nil
	}
	return m.ServerIdentity.AWSIamEntity, nil
}

// buildLedger constructs the optional Firestore-backed dedup ledger, or
// ledger.Noop when no project is configured.
func buildLedger(ctx context.Context, c *cli.Context) (ledger.Ledger, error) {
	project := c.String("ledger-firestore-project")
	if project == "" {
		return ledger.Noop{}, nil
	}
	return ledger.NewFirestore(ctx, project, c.String("ledger-firestore-collection"))
}

// buildNotifier constructs the optional Pub/Sub completion notifier, or
// notify.Noop when no project is configured.
func buildNotifier(ctx context.Context, c *cli.Context) (notify.Notifier, error) {
	project := c.String("notify-pubsub-project")
	if project == "" {
		return notify.Noop{}, nil
	}
	return notify.NewPubSub(ctx, project, c.String("notify-pubsub-topic"))
}

var generateIngestionSampleCommand = &cli.Command{
	Name:  "generate-ingestion-sample",
	Usage: "generate a synthetic ingestion batch pair for testing",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "aggregation-id", Required: true},
		&cli.IntFlag{Name: "dimension", Required: true, Usage: "number of bins in the measurement vector"},
		&cli.IntFlag{Name: "packet-count", Value: 10},
		&cli.Float64Flag{Name: "epsilon", Value: 0.23},
		&cli.StringFlag{Name: "pha-output", Required: true, Usage: "storage path for the PHA-bound ingestion batch"},
		&cli.StringFlag{Name: "facilitator-output", Required: true, Usage: "storage path for the facilitator-bound ingestion batch"},
		&cli.StringFlag{Name: "pha-packet-encryption-public-key", Required: true},
		&cli.StringFlag{Name: "facilitator-packet-encryption-public-key", Required: true},
		&cli.StringFlag{Name: "batch-signing-private-key", Required: true},
		&cli.StringFlag{Name: "batch-signing-private-key-default-identifier", Required: true},
	},
	Action: func(c *cli.Context) error {
		ctx := context.Background()

		phaPath, err := config.ParseStoragePath(c.String("pha-output"))
		if err != nil {
			return err
		}
		facilitatorPath, err := config.ParseStoragePath(c.String("facilitator-output"))
		if err != nil {
			return err
		}
		phaTransport, err := transport.New(ctx, phaPath, config.Identity{})
		if err != nil {
			return err
		}
		facilitatorTransport, err := transport.New(ctx, facilitatorPath, config.Identity{})
		if err != nil {
			return err
		}

		phaPub, err := prio.ParsePublicKey(c.String("pha-packet-encryption-public-key"))
		if err != nil {
			return err
		}
		facilitatorPub, err := prio.ParsePublicKey(c.String("facilitator-packet-encryption-public-key"))
		if err != nil {
			return err
		}

		signing, err := keys.ParseBatchSigningPrivateKey(c.String("batch-signing-private-key-default-identifier"), []byte(c.String("batch-signing-private-key")))
		if err != nil {
			return err
		}

		generator := &sample.Generator{
			Bins:                           c.Int("dimension"),
			Prime:                          4293918721,
			Epsilon:                        c.Float64("epsilon"),
			NumberOfServers:                2,
			PHAPacketEncryptionKey:         phaPub,
			FacilitatorPacketEncryptionKey: facilitatorPub,
		}

		batchID := uuid.New()
		return generator.WriteIngestionBatches(ctx, c.String("aggregation-id"), batchID, time.Now(), c.Int("packet-count"), phaTransport, facilitatorTransport, signing.Key, signing.Identifier)
	},
}

var intakeBatchCommand = &cli.Command{
	Name:  "intake-batch",
	Usage: "read an ingestion batch and emit this server's validation batch",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "aggregation-id", Required: true},
		&cli.StringFlag{Name: "batch-id", Required: true},
		&cli.StringFlag{Name: "batch-time", Required: true, Usage: "RFC3339 batch timestamp"},
		&cli.StringFlag{Name: "ingestor-input", Usage: "ingestion bucket storage path; superseded by --ingestor-manifest-base-url"},
		&cli.StringFlag{Name: "ingestor-identity"},
		&cli.StringFlag{Name: "ingestor-manifest-base-url", Usage: "base URL of the ingestor's specific manifest, superseding --ingestor-input/--ingestor-identity/--ingestion-bucket-public-key"},
		&cli.StringFlag{Name: "ingestion-bucket-public-key", Usage: "PEM PKIX public key used to verify the ingestion header signature"},
		&cli.StringFlag{Name: "own-output", Required: true},
		&cli.StringFlag{Name: "own-identity"},
	}, commonStorageFlags...),
	Action: func(c *cli.Context) error {
		ctx := context.Background()

		batchID, err := uuid.Parse(c.String("batch-id"))
		if err != nil {
			return err
		}
		batchDate, err := time.Parse(time.RFC3339, c.String("batch-time"))
		if err != nil {
			return err
		}

		defaultKeyID := c.String("batch-signing-private-key-default-identifier")
		ingestorBucket, ingestorIdentityRaw, ingestionPubKeys, err := ingestorSource(ctx, c, defaultKeyID)
		if err != nil {
			return err
		}
		ingestorPath, err := config.ParseStoragePath(ingestorBucket)
		if err != nil {
			return err
		}
		ingestorIdentity := config.Identity{AWSRoleARN: ingestorIdentityRaw, GCPServiceAccountEmail: ingestorIdentityRaw}
		ingestorTransport, err := transport.New(ctx, ingestorPath, ingestorIdentity)
		if err != nil {
			return err
		}

		ownPath, err := config.ParseStoragePath(c.String("own-output"))
		if err != nil {
			return err
		}
		ownIdentity := config.Identity{AWSRoleARN: c.String("own-identity"), GCPServiceAccountEmail: c.String("own-identity")}
		ownTransport, err := transport.New(ctx, ownPath, ownIdentity)
		if err != nil {
			return err
		}

		decryptionKeys, err := resolveDecryptionKeys(ctx, c)
		if err != nil {
			return err
		}
		signing, err := resolveSigningKey(ctx, c)
		if err != nil {
			return err
		}

		intaker := &intake.Intaker{
			IngestionTransport: ingestorTransport,
			IngestionPubKeys:   ingestionPubKeys,
			OutputTransport:    ownTransport,
			SigningKey:         signing.Key,
			KeyIdentifier:      signing.Identifier,
			IsFirst:            c.Bool("is-first"),
			DecryptionKeys:     decryptionKeys,
		}

		result, err := intaker.Intake(ctx, c.String("aggregation-id"), batchID, batchDate)
		if err != nil {
			return err
		}
		glog.Infof("intake-batch: %d valid, %d invalid", result.ValidCount, len(result.InvalidUUIDs))
		return nil
	},
}

var aggregateCommand = &cli.Command{
	Name:  "aggregate",
	Usage: "aggregate a set of input batches into a signed sum part",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "aggregation-id", Required: true},
		&cli.StringFlag{Name: "aggregation-start", Required: true, Usage: "RFC3339 window start"},
		&cli.StringFlag{Name: "aggregation-end", Required: true, Usage: "RFC3339 window end"},
		&cli.StringSliceFlag{Name: "batch-id", Required: true},
		&cli.StringSliceFlag{Name: "batch-time", Required: true},
		&cli.StringFlag{Name: "ingestor-input", Usage: "ingestion bucket storage path; superseded by --ingestor-manifest-base-url"},
		&cli.StringFlag{Name: "ingestor-identity"},
		&cli.StringFlag{Name: "ingestor-manifest-base-url", Usage: "base URL of the ingestor's specific manifest, superseding --ingestor-input/--ingestor-identity/--ingestion-bucket-public-key"},
		&cli.StringFlag{Name: "ingestion-bucket-public-key"},
		&cli.StringFlag{Name: "own-validation-input", Required: true},
		&cli.StringFlag{Name: "own-validation-public-key", Required: true},
		&cli.StringFlag{Name: "peer-validation-input", Usage: "peer validation bucket storage path; superseded by --peer-validation-manifest-base-url"},
		&cli.StringFlag{Name: "peer-validation-identity"},
		&cli.StringFlag{Name: "peer-validation-manifest-base-url", Usage: "base URL of the peer's specific manifest, superseding --peer-validation-input/--peer-validation-identity/--peer-validation-public-key"},
		&cli.StringFlag{Name: "peer-validation-public-key"},
		&cli.StringFlag{Name: "portal-output", Required: true},
		&cli.StringFlag{Name: "portal-identity"},
		&cli.StringFlag{Name: "portal-manifest-base-url", Usage: "base URL of the portal server's global manifest, superseding --portal-identity"},
		&cli.StringFlag{Name: "ledger-firestore-project", Usage: "GCP project for the Firestore dedup ledger; omit to re-sum every invocation"},
		&cli.StringFlag{Name: "ledger-firestore-collection", Value: "summed-batches"},
		&cli.StringFlag{Name: "notify-pubsub-project", Usage: "GCP project for the Pub/Sub completion notifier; omit to skip notification"},
		&cli.StringFlag{Name: "notify-pubsub-topic"},
	}, commonStorageFlags...),
	Action: func(c *cli.Context) error {
		ctx := context.Background()

		batchIDs := c.StringSlice("batch-id")
		batchTimes := c.StringSlice("batch-time")
		if len(batchIDs) != len(batchTimes) {
			return fmt.Errorf("aggregate: %d batch-id flags but %d batch-time flags", len(batchIDs), len(batchTimes))
		}
		refs := make([]aggregation.BatchRef, len(batchIDs))
		for i := range batchIDs {
			id, err := uuid.Parse(batchIDs[i])
			if err != nil {
				return err
			}
			date, err := time.Parse(time.RFC3339, batchTimes[i])
			if err != nil {
				return err
			}
			refs[i] = aggregation.BatchRef{BatchID: id, BatchDate: date}
		}

		aggregationStart, err := time.Parse(time.RFC3339, c.String("aggregation-start"))
		if err != nil {
			return err
		}
		aggregationEnd, err := time.Parse(time.RFC3339, c.String("aggregation-end"))
		if err != nil {
			return err
		}

		defaultKeyID := c.String("batch-signing-private-key-default-identifier")

		ingestorBucket, ingestorIdentityRaw, ingestionPubKeys, err := ingestorSource(ctx, c, defaultKeyID)
		if err != nil {
			return err
		}
		ingestorPath, err := config.ParseStoragePath(ingestorBucket)
		if err != nil {
			return err
		}
		ingestorTransport, err := transport.New(ctx, ingestorPath, config.Identity{AWSRoleARN: ingestorIdentityRaw, GCPServiceAccountEmail: ingestorIdentityRaw})
		if err != nil {
			return err
		}

		ownPath, err := config.ParseStoragePath(c.String("own-validation-input"))
		if err != nil {
			return err
		}
		ownTransport, err := transport.New(ctx, ownPath, config.Identity{})
		if err != nil {
			return err
		}
		ownPub, err := keys.ParseBatchSigningPublicKey([]byte(c.String("own-validation-public-key")))
		if err != nil {
			return err
		}

		peerBucket, peerIdentityRaw, peerPubKeys, err := peerValidationSource(ctx, c, defaultKeyID)
		if err != nil {
			return err
		}
		peerPath, err := config.ParseStoragePath(peerBucket)
		if err != nil {
			return err
		}
		peerTransport, err := transport.New(ctx, peerPath, config.Identity{AWSRoleARN: peerIdentityRaw, GCPServiceAccountEmail: peerIdentityRaw})
		if err != nil {
			return err
		}

		portalPath, err := config.ParseStoragePath(c.String("portal-output"))
		if err != nil {
			return err
		}
		portalIdentityRaw, err := portalIdentity(ctx, c)
		if err != nil {
			return err
		}
		portalTransport, err := transport.New(ctx, portalPath, config.Identity{AWSRoleARN: portalIdentityRaw, GCPServiceAccountEmail: portalIdentityRaw})
		if err != nil {
			return err
		}

		decryptionKeys, err := resolveDecryptionKeys(ctx, c)
		if err != nil {
			return err
		}
		signing, err := resolveSigningKey(ctx, c)
		if err != nil {
			return err
		}

		batchLedger, err := buildLedger(ctx, c)
		if err != nil {
			return err
		}
		completionNotifier, err := buildNotifier(ctx, c)
		if err != nil {
			return err
		}

		aggregator := &aggregation.Aggregator{
			IngestionTransport:      ingestorTransport,
			IngestionPubKeys:        ingestionPubKeys,
			OwnValidationTransport:  ownTransport,
			OwnValidationPubKeys:    map[string]*ecdsa.PublicKey{defaultKeyID: ownPub},
			PeerValidationTransport: peerTransport,
			PeerValidationPubKeys:   peerPubKeys,
			OutputTransport:         portalTransport,
			SigningKey:              signing.Key,
			KeyIdentifier:           signing.Identifier,
			IsFirst:                 c.Bool("is-first"),
			DecryptionKeys:          decryptionKeys,
			Ledger:                  batchLedger,
			Notifier:                completionNotifier,
		}

		sumPart, err := aggregator.GenerateSumPart(ctx, c.String("aggregation-id"), aggregationStart, aggregationEnd, refs)
		if err != nil {
			return err
		}
		glog.Infof("aggregate: sealed sum part for %s, %d clients", c.String("aggregation-id"), sumPart.TotalIndividualClients)
		return nil
	},
}
