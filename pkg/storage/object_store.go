package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// RawPayloadArchive keeps the untouched webhook body of an inbound message.
type RawPayloadArchive interface {
	Archive(ctx context.Context, key string, payload []byte) error
}

// RawPayloadKey builds the object key for an inbound payload. ref is the
// external message id when the channel supplies one, else the message id.
func RawPayloadKey(conversationID, ref string) string {
	clean := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(strings.TrimSpace(ref))
	return path.Join("inbound", conversationID, clean+".json")
}

// MinioArchive implements RawPayloadArchive for MinIO/S3 compatible storage.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to MinIO and ensures the bucket exists.
func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// Archive uploads payload under key.
func (m *MinioArchive) Archive(ctx context.Context, key string, payload []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// MemoryArchive keeps payloads in process.
type MemoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: make(map[string][]byte)}
}

func (m *MemoryArchive) Archive(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), payload...)
	return nil
}

// Get returns a stored payload.
func (m *MemoryArchive) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.objects[key]
	return p, ok
}
