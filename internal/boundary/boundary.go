// Package boundary declares the capabilities the core consumes from the
// surrounding application: image capture, compression, file storage and a
// clock. Implementations live in internal/platform or in tests.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ImageSource selects where a photo is picked from.
type ImageSource string

const (
	SourceCamera  ImageSource = "camera"
	SourceLibrary ImageSource = "library"
)

// ParseImageSource validates a user supplied source name.
func ParseImageSource(s string) (ImageSource, error) {
	switch ImageSource(strings.ToLower(strings.TrimSpace(s))) {
	case SourceCamera:
		return SourceCamera, nil
	case SourceLibrary:
		return SourceLibrary, nil
	}
	return "", fmt.Errorf("unknown image source %q", s)
}

// PickedImage is a raw image chosen by the user.
type PickedImage struct {
	URI string
}

// ImagePicker returns nil, nil when the user cancels.
type ImagePicker interface {
	PickImage(ctx context.Context, source ImageSource) (*PickedImage, error)
}

// ImageCompressor re-encodes sourceURI and returns the URI of the result.
type ImageCompressor interface {
	CompressImage(ctx context.Context, sourceURI string) (string, error)
}

// FileStorage persists images under the app's storage directory.
// DeleteFile must treat an already absent file as success.
type FileStorage interface {
	SaveImage(ctx context.Context, sourceURI, targetFileName string) (string, error)
	DeleteFile(ctx context.Context, uri string) error
}

// Clock supplies ISO-8601 timestamps.
type Clock interface {
	NowISO() string
}

// ISOLayout is the timestamp format produced by SystemClock.
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) NowISO() string {
	return time.Now().UTC().Format(ISOLayout)
}

// FixedClock always returns the same instant.
type FixedClock string

func (c FixedClock) NowISO() string { return string(c) }

// ErrCameraUnavailable is returned by pickers that cannot drive a camera.
var ErrCameraUnavailable = errors.New("camera is not available on this device")

// PathPicker "picks" an existing file from the local library. An empty Path
// behaves like a cancelled pick.
type PathPicker struct {
	Path string
}

func (p PathPicker) PickImage(_ context.Context, source ImageSource) (*PickedImage, error) {
	if source == SourceCamera {
		return nil, ErrCameraUnavailable
	}
	if p.Path == "" {
		return nil, nil
	}
	if _, err := os.Stat(p.Path); err != nil {
		return nil, fmt.Errorf("photo library: %w", err)
	}
	return &PickedImage{URI: p.Path}, nil
}
