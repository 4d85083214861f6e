package initiator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"proof-capture-app/internal/models"
	"proof-capture-app/internal/pairing"
)

// PlaceholderSVG stands in for an image that cannot be retrieved.
const PlaceholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200">` +
	`<rect fill="#ddd" width="200" height="200"/>` +
	`<text fill="#999" font-family="sans-serif" font-size="14" x="50%" y="50%" text-anchor="middle" dy=".3em">Image not found</text>` +
	`</svg>`

const maxImageBytes = 32 << 20

// Gallery is the append-only list of captures for one session, in arrival
// order. It never evicts.
type Gallery struct {
	endpoints pairing.Endpoints
	client    *http.Client

	mu       sync.RWMutex
	captures []models.CaptureNotification
}

func NewGallery(endpoints pairing.Endpoints, client *http.Client) *Gallery {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gallery{endpoints: endpoints, client: client}
}

// Append adds n at the tail and returns its index.
func (g *Gallery) Append(n models.CaptureNotification) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures = append(g.captures, n)
	return len(g.captures) - 1
}

func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.captures)
}

// Captures returns a copy in arrival order.
func (g *Gallery) Captures() []models.CaptureNotification {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.CaptureNotification, len(g.captures))
	copy(out, g.captures)
	return out
}

// Chronological orders by capture timestamp with arrival order as the
// tiebreak. Captures without a parsable timestamp sort last.
func (g *Gallery) Chronological() []models.CaptureNotification {
	out := g.Captures()
	sort.SliceStable(out, func(i, j int) bool {
		ti, okI := out[i].CapturedAt()
		tj, okJ := out[j].CapturedAt()
		switch {
		case okI && okJ:
			return ti.Before(tj)
		case okI:
			return true
		default:
			return false
		}
	})
	return out
}

// ImageURL is the retrieval address for capture i.
func (g *Gallery) ImageURL(i int) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i < 0 || i >= len(g.captures) {
		return "", fmt.Errorf("capture %d out of range", i)
	}
	return g.endpoints.ImageURL(g.captures[i].Image), nil
}

// Download retrieves capture i, reporting why it could not.
func (g *Gallery) Download(ctx context.Context, i int) (data []byte, contentType string, err error) {
	u, err := g.ImageURL(i)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", u, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("fetch %s: empty image", u)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Fetch retrieves capture i. Any failure yields the placeholder graphic
// instead of an error so the rest of the gallery keeps rendering.
func (g *Gallery) Fetch(ctx context.Context, i int) (data []byte, contentType string) {
	data, contentType, err := g.Download(ctx, i)
	if err != nil {
		return []byte(PlaceholderSVG), "image/svg+xml"
	}
	return data, contentType
}
