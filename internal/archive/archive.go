// Package archive keeps raw provider pages in Google Cloud Storage so a
// run can be audited or replayed later.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/bank-ledger/internal/provider"
)

// uploadTimeout bounds a single object upload.
const uploadTimeout = 2 * time.Minute

// Bucket is the subset of a storage bucket the archiver needs.
type Bucket interface {
	NewWriter(ctx context.Context, object string) io.WriteCloser
	NewReader(ctx context.Context, object string) (io.ReadCloser, error)
}

// GCSArchiver writes pages as JSON objects under
// {prefix}/{accountId}/{runId}/page-NNNN.json.
type GCSArchiver struct {
	bucket     Bucket
	bucketName string
	prefix     string
	client     *storage.Client
}

// NewGCSArchiver opens a storage client using Application Default
// Credentials.
func NewGCSArchiver(ctx context.Context, bucketName, prefix string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a := NewArchiverWithBucket(gcsBucket{client.Bucket(bucketName)}, bucketName, prefix)
	a.client = client
	return a, nil
}

// NewArchiverWithBucket builds an archiver over an existing bucket handle.
func NewArchiverWithBucket(b Bucket, bucketName, prefix string) *GCSArchiver {
	return &GCSArchiver{bucket: b, bucketName: bucketName, prefix: strings.Trim(prefix, "/")}
}

// Close releases the storage client, if the archiver owns one.
func (a *GCSArchiver) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// ObjectName returns the object path for one page of a run.
func (a *GCSArchiver) ObjectName(accountID, runID string, page int) string {
	return path.Join(a.prefix, accountID, runID, fmt.Sprintf("page-%04d.json", page))
}

// URI returns the gs:// URI of an object in the archive bucket.
func (a *GCSArchiver) URI(object string) string {
	return "gs://" + a.bucketName + "/" + object
}

// ArchivePage uploads the page body exactly as the provider returned it.
func (a *GCSArchiver) ArchivePage(ctx context.Context, runID string, page *provider.Page) error {
	object := a.ObjectName(page.AccountID, runID, page.Number)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.bucket.NewWriter(ctx, object)
	if _, err := w.Write(page.Body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", a.URI(object), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", a.URI(object), err)
	}
	return nil
}

// Fetch downloads an archived object. uri may be a gs:// URI or an object
// name inside the archive bucket.
func (a *GCSArchiver) Fetch(ctx context.Context, uri string) ([]byte, error) {
	object := uri
	if strings.HasPrefix(uri, "gs://") {
		bucket, name, err := ParseURI(uri)
		if err != nil {
			return nil, err
		}
		if bucket != a.bucketName {
			return nil, fmt.Errorf("object %s is not in bucket %s", uri, a.bucketName)
		}
		object = name
	}

	r, err := a.bucket.NewReader(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/object into bucket and object name.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

type gcsBucket struct {
	h *storage.BucketHandle
}

func (b gcsBucket) NewWriter(ctx context.Context, object string) io.WriteCloser {
	w := b.h.Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}

func (b gcsBucket) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	return b.h.Object(object).NewReader(ctx)
}
