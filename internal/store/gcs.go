package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Bucket is the object storage used by GCSStore.
type Bucket interface {
	Write(ctx context.Context, name string, data []byte, contentType string) error
	Read(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// GCSStore keeps analyses as objects under a prefix in a bucket.
type GCSStore struct {
	bucket Bucket
	prefix string
}

// NewGCSStore creates a GCSStore over an existing Bucket.
func NewGCSStore(bucket Bucket, prefix string) *GCSStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCSStore{bucket: bucket, prefix: prefix}
}

// Save implements Store.
func (s *GCSStore) Save(ctx context.Context, req SaveRequest) (string, error) {
	sum, err := validateSave(req)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, req.Analysis, "", "  "); err != nil {
		return "", fmt.Errorf("GCSStore.Save: format analysis: %w", err)
	}
	if err := s.bucket.Write(ctx, s.prefix+sum.FileName, buf.Bytes(), "application/json"); err != nil {
		return "", fmt.Errorf("GCSStore.Save: %w", err)
	}
	return sum.FileName, nil
}

// List implements Store.
func (s *GCSStore) List(ctx context.Context) ([]Summary, error) {
	names, err := s.bucket.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.List: %w", err)
	}
	out := make([]Summary, 0, len(names))
	for _, name := range names {
		rel := strings.TrimPrefix(name, s.prefix)
		if strings.Contains(rel, "/") {
			continue
		}
		sum, err := ParseFileName(rel)
		if err != nil {
			continue
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// Get implements Store.
func (s *GCSStore) Get(ctx context.Context, fileName string) (*Saved, error) {
	sum, err := ParseFileName(fileName)
	if err != nil {
		return nil, err
	}
	data, err := s.bucket.Read(ctx, s.prefix+fileName)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Get: %w", err)
	}
	return &Saved{Summary: sum, Analysis: data}, nil
}

// CloudBucket is the Bucket backed by Google Cloud Storage. It assumes
// Application Default Credentials are configured.
type CloudBucket struct {
	client *storage.Client
	name   string
}

// NewCloudBucket opens a storage client for bucketName.
func NewCloudBucket(ctx context.Context, bucketName string) (*CloudBucket, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &CloudBucket{client: client, name: bucketName}, nil
}

// Close releases the storage client.
func (b *CloudBucket) Close() error {
	return b.client.Close()
}

// Write uploads data as one object.
func (b *CloudBucket) Write(ctx context.Context, name string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.name).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s/%s: %w", b.name, name, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s/%s: %w", b.name, name, err)
	}
	return nil
}

// Read downloads one object. A missing object is ErrNotFound.
func (b *CloudBucket) Read(ctx context.Context, name string) ([]byte, error) {
	rc, err := b.client.Bucket(b.name).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path.Base(name))
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s/%s: %w", b.name, name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", b.name, name, err)
	}
	return data, nil
}

// List returns the names of objects under prefix.
func (b *CloudBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.client.Bucket(b.name).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", b.name, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

var (
	_ Store  = (*GCSStore)(nil)
	_ Bucket = (*CloudBucket)(nil)
)
