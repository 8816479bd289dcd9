package imagecompress

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillfolio/pillfolio/internal/platform/filestore"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "picked.png")
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestCompressImage_ResizesAndEncodesJPEG(t *testing.T) {
	out := t.TempDir()
	c := NewCompressor(out, 70, 100)

	uri, err := c.CompressImage(context.Background(), filestore.URIFromPath(writePNG(t, 400, 200)))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(uri, ".jpg"))
	assert.True(t, strings.HasPrefix(filestore.PathFromURI(uri), out))

	img, err := imaging.Open(filestore.PathFromURI(uri))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestCompressImage_KeepsSmallImages(t *testing.T) {
	c := NewCompressor(t.TempDir(), 0, 2048)

	uri, err := c.CompressImage(context.Background(), writePNG(t, 30, 20))
	require.NoError(t, err)

	img, err := imaging.Open(filestore.PathFromURI(uri))
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestCompressImage_Errors(t *testing.T) {
	c := NewCompressor(t.TempDir(), 70, 0)

	_, err := c.CompressImage(context.Background(), "file:///no/such/image.png")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CompressImage(ctx, writePNG(t, 10, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewCompressor_Defaults(t *testing.T) {
	c := NewCompressor("x", 500, -1)
	assert.Equal(t, DefaultQuality, c.quality)
	assert.Zero(t, c.maxDimension)
}

func TestRelease(t *testing.T) {
	c := NewCompressor(t.TempDir(), 70, 0)
	source := writePNG(t, 10, 10)

	uri, err := c.CompressImage(context.Background(), filestore.URIFromPath(source))
	require.NoError(t, err)
	require.NoError(t, c.Release(context.Background(), uri))
	_, err = os.Stat(filestore.PathFromURI(uri))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, c.Release(context.Background(), uri))

	require.NoError(t, c.Release(context.Background(), filestore.URIFromPath(source)))
	_, err = os.Stat(source)
	assert.NoError(t, err)
}
