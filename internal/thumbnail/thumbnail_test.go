package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	path := filepath.Join(t.TempDir(), "proof.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestGenerate_FitsWithinBounds(t *testing.T) {
	path := writePNG(t, 1200, 600)
	c := NewCache()

	data, err := c.Get(path)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 150, cfg.Height)

	again, err := c.Get(path)
	require.NoError(t, err)
	assert.Equal(t, data, again)
	assert.Equal(t, 1, c.Len())
}

func TestGenerate_RejectsNonImage(t *testing.T) {
	_, err := Generate(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestGet_MissingFile(t *testing.T) {
	_, err := NewCache().Get(filepath.Join(t.TempDir(), "nope.jpg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
