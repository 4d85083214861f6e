// Package thumbnail generates and caches JPEG previews of stored proof images.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	"github.com/nfnt/resize"
)

const (
	MaxSize = 300
	quality = 85
)

// Cache stores generated thumbnails by source path
type Cache struct {
	cache map[string][]byte
	mu    sync.RWMutex
}

func NewCache() *Cache {
	return &Cache{cache: make(map[string][]byte)}
}

// Get returns the thumbnail for the image at path, generating it on first use.
func (c *Cache) Get(path string) ([]byte, error) {
	c.mu.RLock()
	if cached, ok := c.cache[path]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf, err := Generate(file)
	if err != nil {
		return nil, fmt.Errorf("thumbnail %s: %w", path, err)
	}

	c.mu.Lock()
	c.cache[path] = buf
	c.mu.Unlock()
	return buf, nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Generate decodes r and fits it into MaxSize x MaxSize as a JPEG.
func Generate(r io.Reader) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := resize.Thumbnail(MaxSize, MaxSize, img, resize.Lanczos3)

	writer := &bytes.Buffer{}
	if err := jpeg.Encode(writer, thumb, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return writer.Bytes(), nil
}
