package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/nodeboot/pkg/log"
)

var (
	// ErrNotFound is returned when the bucket or object does not exist
	ErrNotFound = errors.New("object not found")

	// ErrChecksumMismatch is returned when a validated download does not
	// match the checksum recorded by the store
	ErrChecksumMismatch = errors.New("object checksum mismatch")
)

// Store defines the object storage used for cluster-wide files such as the
// persistent data snapshot
type Store interface {
	// Get returns the object contents. When validate is true the store must
	// verify the payload against its own checksum and fail on mismatch.
	Get(ctx context.Context, bucket, key string, validate bool) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
	Delete(ctx context.Context, bucket, key string) error
	Close() error
}

// Fetch downloads bucket/remoteName into localName and reports whether it
// succeeded. Failures are logged at debug level and never returned.
func Fetch(ctx context.Context, s Store, bucket, remoteName, localName string, validate bool) bool {
	logger := log.WithComponent("objectstore")

	if s == nil {
		logger.Debug().Msg("No object store connection, skipping fetch")
		return false
	}

	data, err := s.Get(ctx, bucket, remoteName, validate)
	if err != nil {
		logger.Debug().Err(err).
			Str("bucket", bucket).
			Str("key", remoteName).
			Bool("validate", validate).
			Msg("Failed to get file from bucket")
		return false
	}

	if err := writeFileAtomic(localName, data); err != nil {
		logger.Debug().Err(err).Str("path", localName).Msg("Failed to save fetched file")
		return false
	}

	logger.Debug().
		Str("bucket", bucket).
		Str("key", remoteName).
		Str("path", localName).
		Int("bytes", len(data)).
		Msg("Retrieved file from bucket")
	return true
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
