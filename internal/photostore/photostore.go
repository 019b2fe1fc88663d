// Package photostore keeps captured preview images until their capture set
// is submitted or discarded. A storage key is the preview handle handed to
// the front end.
package photostore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned for a key that was never saved or was deleted.
var ErrNotFound = errors.New("photo not found")

type PhotoStore interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}
