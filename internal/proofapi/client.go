// Package proofapi is the HTTP client for the Broker's proof endpoints.
package proofapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"proof-capture-app/internal/models"
	"proof-capture-app/internal/pairing"
)

// Multipart field names understood by the upload endpoint.
const (
	FieldFile      = "file"
	FieldTimestamp = "timestamp"
	FieldLat       = "lat"
	FieldLng       = "lng"
)

// StatusError is a non-2xx Broker response. Body is the server text verbatim.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Body)
}

// UploadRequest is one capture as sent to the Broker.
type UploadRequest struct {
	FileName  string
	Image     []byte
	Timestamp string
	Lat       string
	Lng       string
}

type ClientConfig struct {
	Endpoints  pairing.Endpoints
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	endpoints pairing.Endpoints
	http      *http.Client
	logger    *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		endpoints: cfg.Endpoints,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

// Endpoints returns the address convention this client talks to.
func (c *Client) Endpoints() pairing.Endpoints { return c.endpoints }

// CreateSession asks the Broker for a new session. The request has no body.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.SessionURL(), nil)
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("create session", resp); err != nil {
		return "", err
	}

	var body models.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if body.SessionID == "" {
		return "", errors.New("create session: empty session id in response")
	}

	c.logger.Debug("proof session created", "session", body.SessionID, "expires_at", body.ExpiresAt)
	return body.SessionID, nil
}

// Upload posts one capture to the session-scoped upload address. The session
// id is sent as given; rejecting a bad one is the Broker's call.
func (c *Client) Upload(ctx context.Context, sessionID string, up UploadRequest) (*models.UploadResponse, error) {
	body, contentType, err := encodeUpload(up)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.UploadURL(sessionID), body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("upload", resp); err != nil {
		return nil, err
	}

	// Any 2xx is success; the body is informational.
	out := &models.UploadResponse{Status: "uploaded"}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.logger.Warn("unreadable upload response", "err", err)
		}
	}
	return out, nil
}

func encodeUpload(up UploadRequest) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	fw, err := mw.CreateFormFile(FieldFile, up.FileName)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(up.Image); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	for _, f := range [][2]string{
		{FieldTimestamp, up.Timestamp},
		{FieldLat, up.Lat},
		{FieldLng, up.Lng},
	} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
}

// Timeout wraps ctx with d when d is positive; d <= 0 leaves it unbounded.
func Timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
