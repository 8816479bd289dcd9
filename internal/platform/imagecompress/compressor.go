// Package imagecompress re-encodes picked photos as bounded-size JPEGs.
package imagecompress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/pillfolio/pillfolio/internal/platform/filestore"
)

const (
	DefaultQuality      = 70
	DefaultMaxDimension = 2048
)

// Compressor implements boundary.ImageCompressor. Results are written to
// an output directory and handed to file storage by the caller.
type Compressor struct {
	outDir       string
	quality      int
	maxDimension int
}

// NewCompressor returns a Compressor writing into outDir. quality is the
// JPEG quality (1-100); maxDimension bounds the longer edge, 0 disables
// resizing.
func NewCompressor(outDir string, quality, maxDimension int) *Compressor {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if maxDimension < 0 {
		maxDimension = 0
	}
	return &Compressor{outDir: outDir, quality: quality, maxDimension: maxDimension}
}

func (c *Compressor) CompressImage(ctx context.Context, sourceURI string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := imaging.Open(filestore.PathFromURI(sourceURI), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", sourceURI, err)
	}

	if c.maxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > c.maxDimension || b.Dy() > c.maxDimension {
			img = imaging.Fit(img, c.maxDimension, c.maxDimension, imaging.Lanczos)
		}
	}

	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create compression dir: %w", err)
	}
	out := filepath.Join(c.outDir, uuid.NewString()+".jpg")
	if err := imaging.Save(img, out, imaging.JPEGQuality(c.quality)); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return filestore.URIFromPath(out), nil
}

// Release removes a compressed image written by this Compressor once the
// caller has stored a copy. URIs outside the output directory are left alone.
func (c *Compressor) Release(_ context.Context, uri string) error {
	path, err := filepath.Abs(filestore.PathFromURI(uri))
	if err != nil {
		return err
	}
	outDir, err := filepath.Abs(c.outDir)
	if err != nil {
		return err
	}
	if filepath.Dir(path) != outDir {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove compressed image: %w", err)
	}
	return nil
}
