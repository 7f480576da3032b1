// Package fs serves image files from a local directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittomount/pkg/imagesource"
)

// Source reads files below a root directory. Names may not escape the root.
type Source struct {
	root string
}

// New returns a Source rooted at path, which must be an existing directory.
func New(ctx context.Context, path string) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve image directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("image directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("image directory %s is not a directory", abs)
	}
	return &Source{root: abs}, nil
}

// Root returns the absolute directory files are read from.
func (s *Source) Root() string {
	return s.root
}

func (s *Source) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return nil, fmt.Errorf("%w: %q", imagesource.ErrInvalidName, name)
	}

	data, err := os.ReadFile(filepath.Join(s.root, local))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, imagesource.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
