// Package storage keeps uploaded files in an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/storage/memory"
	"github.com/feichai0017/file-organizer/pkg/storage/minio"
	"github.com/feichai0017/file-organizer/pkg/storage/objkey"
	"github.com/feichai0017/file-organizer/pkg/storage/s3"
)

// StorageType selects a backend.
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// ErrObjectNotFound is returned by Get and Rename for missing keys.
var ErrObjectNotFound = objkey.ErrNotFound

// Storage is an object store addressed by key.
type Storage interface {
	// Store writes the object and returns its key. size may be -1 when unknown.
	Store(ctx context.Context, reader io.Reader, key string, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// Rename moves key to the same directory under newBaseName, keeping the
	// extension, and returns the new key.
	Rename(ctx context.Context, key, newBaseName string) (string, error)
	// CleanupBefore deletes objects last modified before threshold and
	// returns how many were removed.
	CleanupBefore(ctx context.Context, threshold time.Time) (int, error)
}

// NewStorage builds the backend named by storageType.
func NewStorage(storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(log)
	case StorageTypeMinio:
		return minio.GetClient(log)
	case StorageTypeMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ReadAll fetches an object fully into memory.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
