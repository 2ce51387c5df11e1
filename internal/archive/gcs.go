// Package archive stores raw oracle responses in Google Cloud Storage for
// audit and replay. Payloads carry merchant names and free-text reasoning
// about a user's finances, so they are encrypted before leaving the process.
package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/dvloznov/spendwise/internal/categorize"
)

var _ categorize.ResponseArchiver = (*GCSArchiver)(nil)

// GCSArchiver writes encrypted oracle responses to a GCS bucket.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type GCSArchiver struct {
	client *storage.Client
	bucket string
	key    *[KeySize]byte

	// now is stubbed in tests.
	now func() time.Time
}

// NewGCSArchiver creates an archiver writing to the given bucket.
func NewGCSArchiver(ctx context.Context, bucket string, key *[KeySize]byte) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSArchiver: create storage client: %w", err)
	}
	return &GCSArchiver{
		client: client,
		bucket: bucket,
		key:    key,
		now:    time.Now,
	}, nil
}

// ArchiveOracleResponse encrypts and uploads one raw response, returning the
// gs:// URI of the object.
func (a *GCSArchiver) ArchiveOracleResponse(ctx context.Context, raw []byte) (string, error) {
	sealed, err := seal(a.key, raw)
	if err != nil {
		return "", fmt.Errorf("ArchiveOracleResponse: encrypting payload: %w", err)
	}

	objectName := fmt.Sprintf("oracle-responses/%s/%s.bin",
		a.now().UTC().Format("2006/01/02"), uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(sealed); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("ArchiveOracleResponse: writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("ArchiveOracleResponse: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}

// Fetch downloads and decrypts an archived response by its gs:// URI.
func (a *GCSArchiver) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	objectName, err := objectFromURI(gcsURI, a.bucket)
	if err != nil {
		return nil, err
	}

	rc, err := a.client.Bucket(a.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s: %w", objectName, err)
	}
	defer rc.Close()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}

	raw, err := open(a.key, sealed)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return raw, nil
}

// Close releases the underlying storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

// objectFromURI extracts the object path from a gs:// URI, checking the
// bucket matches.
func objectFromURI(gcsURI, bucket string) (string, error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", fmt.Errorf("objectFromURI: invalid GCS URI: %s", gcsURI)
	}
	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("objectFromURI: invalid GCS URI (no object path): %s", gcsURI)
	}
	if parts[0] != bucket {
		return "", fmt.Errorf("objectFromURI: URI bucket %q does not match archiver bucket %q", parts[0], bucket)
	}
	return parts[1], nil
}
