// Package imagesource abstracts where disk images and their companion files
// (signatures, trust caches, info plists) are read from.
package imagesource

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittomount/pkg/plist"
)

var (
	// ErrNotFound is returned when a named file does not exist in the source.
	ErrNotFound = errors.New("image file not found")

	// ErrInvalidName is returned for names that escape the source root.
	ErrInvalidName = errors.New("invalid image file name")
)

// Source reads image files by slash-separated name relative to its root.
type Source interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// Bundle is everything needed to mount one image.
type Bundle struct {
	Image      []byte
	Signature  []byte
	TrustCache []byte
	Info       plist.Value
}

// BundleNames names the files of a Bundle. Empty optional names are skipped.
type BundleNames struct {
	Image      string
	Signature  string
	TrustCache string
	Info       string
}

// LoadBundle reads the named files from src. Info, when set, must be a
// property list.
func LoadBundle(ctx context.Context, src Source, names BundleNames) (*Bundle, error) {
	if names.Image == "" {
		return nil, fmt.Errorf("%w: image name is required", ErrInvalidName)
	}

	var b Bundle
	var err error
	if b.Image, err = src.ReadFile(ctx, names.Image); err != nil {
		return nil, err
	}
	if names.Signature != "" {
		if b.Signature, err = src.ReadFile(ctx, names.Signature); err != nil {
			return nil, err
		}
	}
	if names.TrustCache != "" {
		if b.TrustCache, err = src.ReadFile(ctx, names.TrustCache); err != nil {
			return nil, err
		}
	}
	if names.Info != "" {
		data, err := src.ReadFile(ctx, names.Info)
		if err != nil {
			return nil, err
		}
		if b.Info, _, err = plist.Unmarshal(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", names.Info, err)
		}
	}
	return &b, nil
}
