package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrNoImage means the capture intake returned without a file.
var ErrNoImage = errors.New("no image captured")

// CapturedImage is the first file returned by the camera intake.
type CapturedImage struct {
	Data        []byte
	ContentType string
}

// ImageCapturer is the platform camera intake. Reset clears any pending
// file so the same control can be used for the next capture.
type ImageCapturer interface {
	Capture(ctx context.Context) (*CapturedImage, error)
	Reset()
}

// FileCapturer hands out files from disk in order, one per capture.
type FileCapturer struct {
	mu      sync.Mutex
	paths   []string
	pending string
}

func NewFileCapturer(paths ...string) *FileCapturer {
	return &FileCapturer{paths: paths}
}

func (f *FileCapturer) Capture(ctx context.Context) (*CapturedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.pending == "" {
		if len(f.paths) == 0 {
			return nil, ErrNoImage
		}
		f.pending, f.paths = f.paths[0], f.paths[1:]
	}

	data, err := os.ReadFile(f.pending)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.pending, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoImage, f.pending)
	}
	return &CapturedImage{Data: data, ContentType: "image/jpeg"}, nil
}

// Reset drops the file of the last capture. Until then a failed upload is
// retried with the same file.
func (f *FileCapturer) Reset() {
	f.mu.Lock()
	f.pending = ""
	f.mu.Unlock()
}

// Remaining is the number of files not yet captured.
func (f *FileCapturer) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.paths)
	if f.pending != "" {
		n++
	}
	return n
}
