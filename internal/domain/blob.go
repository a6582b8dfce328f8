package domain

import (
	"context"
	"io"
)

// BlobStore is the subset of object storage the archiver needs.
type BlobStore interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	Exists(ctx context.Context, path string) (bool, error)
}
