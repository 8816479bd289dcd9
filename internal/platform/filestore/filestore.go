// Package filestore keeps prescription photos on local disk. It implements
// boundary.FileStorage and stages raw uploads before they are compressed.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// PrescriptionsDir holds stored, compressed prescription photos.
	PrescriptionsDir = "prescriptions"
	// IncomingDir holds raw uploads waiting to be compressed and stored.
	IncomingDir = "incoming"

	fileScheme = "file://"
)

// MaxUploadSize caps a staged upload (25 MB).
const MaxUploadSize = 25 * 1024 * 1024

var (
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// AllowedContentTypes lists the image types accepted for upload.
var AllowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/heic": true,
	"image/webp": true,
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SafeFileName replaces every character outside [A-Za-z0-9._-] with "_".
func SafeFileName(name string) string {
	return unsafeFileChars.ReplaceAllString(name, "_")
}

// PathFromURI turns a file:// URI (or a bare path) into a filesystem path.
func PathFromURI(uri string) string {
	return strings.TrimPrefix(uri, fileScheme)
}

// URIFromPath turns a filesystem path into a file:// URI.
func URIFromPath(path string) string {
	return fileScheme + filepath.ToSlash(path)
}

// Local stores files below a base directory.
type Local struct {
	baseDir string
}

// NewLocal returns a Local rooted at baseDir. The directory is created on
// first write.
func NewLocal(baseDir string) (*Local, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir %s: %w", baseDir, err)
	}
	return &Local{baseDir: abs}, nil
}

// BaseDir returns the absolute storage root.
func (l *Local) BaseDir() string { return l.baseDir }

// SaveImage copies sourceURI into the prescriptions directory under a
// sanitized targetFileName and returns the stored file's URI.
func (l *Local) SaveImage(ctx context.Context, sourceURI, targetFileName string) (string, error) {
	if targetFileName == "" {
		return "", ErrMissingFileName
	}
	dir := filepath.Join(l.baseDir, PrescriptionsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}

	dest := filepath.Join(dir, SafeFileName(targetFileName))
	if err := copyFile(ctx, PathFromURI(sourceURI), dest); err != nil {
		return "", err
	}
	return URIFromPath(dest), nil
}

// DeleteFile removes uri. A missing file is not an error.
func (l *Local) DeleteFile(_ context.Context, uri string) error {
	err := os.Remove(PathFromURI(uri))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", uri, err)
	}
	return nil
}

// Stage writes an uploaded image into the incoming directory and returns its
// URI. The staged file is what a draft's photo URI points at before the
// lifecycle service compresses and stores it.
func (l *Local) Stage(_ context.Context, fileName, contentType string, content io.Reader) (string, error) {
	if fileName == "" {
		return "", ErrMissingFileName
	}
	if !AllowedContentTypes[contentType] {
		return "", ErrInvalidContentType
	}

	dir := filepath.Join(l.baseDir, IncomingDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create incoming dir: %w", err)
	}

	dest := filepath.Join(dir, uuid.NewString()+"-"+SafeFileName(filepath.Base(fileName)))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(content, MaxUploadSize+1))
	closeErr := f.Close()
	if err == nil && n > MaxUploadSize {
		err = ErrFileTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	return URIFromPath(dest), nil
}

// Unstage removes a staged upload once it has been stored. URIs outside the
// incoming directory are ignored, as is a file that is already gone.
func (l *Local) Unstage(_ context.Context, uri string) error {
	path, err := filepath.Abs(PathFromURI(uri))
	if err != nil {
		return err
	}
	if filepath.Dir(path) != filepath.Join(l.baseDir, IncomingDir) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unstage %s: %w", uri, err)
	}
	return nil
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source image: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create stored image: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy image: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close stored image: %w", err)
	}
	return nil
}
