package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/vbonduro/rideshare/internal/capture"
	"github.com/vbonduro/rideshare/internal/photostore"
)

// photoPreviews stores capture previews in the photo store. The storage key
// is the preview handle.
type photoPreviews struct {
	stg    photostore.PhotoStore
	prefix string
}

func (p *photoPreviews) Publish(ctx context.Context, a *capture.Artifact) (string, error) {
	key, err := p.stg.Save(ctx, fmt.Sprintf("%s_%s", p.prefix, a.Angle), a.MimeType, bytes.NewReader(a.Data))
	if err != nil {
		return "", fmt.Errorf("failed to save preview: %w", err)
	}
	return key, nil
}

func (p *photoPreviews) Revoke(ctx context.Context, handle string) error {
	if err := p.stg.Delete(ctx, handle); err != nil && !errors.Is(err, photostore.ErrNotFound) {
		return fmt.Errorf("failed to delete preview: %w", err)
	}
	return nil
}
