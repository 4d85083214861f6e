// Package agent implements the mobile side of capture pairing: take a
// photo, tag it with time and best-effort location, and upload it to the
// session named in the pairing route.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"proof-capture-app/internal/models"
	"proof-capture-app/internal/proofapi"
)

// ErrCaptureInProgress is returned when the capture control is disabled.
var ErrCaptureInProgress = errors.New("capture already in progress")

// isoMillis matches the ISO-8601 form browsers send: millisecond precision, UTC.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

const (
	DefaultMountLocationTimeout   = 15 * time.Second
	DefaultCaptureLocationTimeout = 10 * time.Second
	DefaultConfirmationWindow     = 3 * time.Second
)

// Uploader delivers one capture; *proofapi.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, sessionID string, up proofapi.UploadRequest) (*models.UploadResponse, error)
}

type Config struct {
	// SessionID comes from the pairing route and is sent as-is.
	SessionID string
	Location  LocationProvider
	Capturer  ImageCapturer
	Uploader  Uploader

	MountLocationTimeout   time.Duration
	CaptureLocationTimeout time.Duration
	ConfirmationWindow     time.Duration
	UploadTimeout          time.Duration // 0 = no client-side limit

	Now           func() time.Time
	Logger        *slog.Logger
	OnStateChange func(State)
}

// Agent runs capture cycles one at a time.
type Agent struct {
	sessionID      string
	location       LocationProvider
	capturer       ImageCapturer
	uploader       Uploader
	mountTimeout   time.Duration
	captureTimeout time.Duration
	confirmWindow  time.Duration
	uploadTimeout  time.Duration
	now            func() time.Time
	logger         *slog.Logger
	onState        func(State)

	mu        sync.Mutex
	state     State
	cycle     uint64
	lastErr   string
	lastKnown *models.LocationSample
	revert    *time.Timer
}

func New(cfg Config) *Agent {
	if cfg.MountLocationTimeout <= 0 {
		cfg.MountLocationTimeout = DefaultMountLocationTimeout
	}
	if cfg.CaptureLocationTimeout <= 0 {
		cfg.CaptureLocationTimeout = DefaultCaptureLocationTimeout
	}
	if cfg.ConfirmationWindow <= 0 {
		cfg.ConfirmationWindow = DefaultConfirmationWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{
		sessionID:      cfg.SessionID,
		location:       cfg.Location,
		capturer:       cfg.Capturer,
		uploader:       cfg.Uploader,
		mountTimeout:   cfg.MountLocationTimeout,
		captureTimeout: cfg.CaptureLocationTimeout,
		confirmWindow:  cfg.ConfirmationWindow,
		uploadTimeout:  cfg.UploadTimeout,
		now:            cfg.Now,
		logger:         cfg.Logger.With("session", cfg.SessionID),
		onState:        cfg.OnStateChange,
	}
}

func (a *Agent) SessionID() string { return a.sessionID }

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastError is the reason of the most recent failed cycle, cleared when a
// new cycle starts.
func (a *Agent) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// LastKnownLocation is the most recent successful location sample.
func (a *Agent) LastKnownLocation() (models.LocationSample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastKnown == nil {
		return models.LocationSample{}, false
	}
	return *a.lastKnown, true
}

// Mount makes the eager, advisory location request. The returned channel
// closes when it settles; nothing needs to wait for it.
func (a *Agent) Mount(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sample, err := requestPosition(ctx, a.location, LocationOptions{
			HighAccuracy: true,
			Timeout:      a.mountTimeout,
		})
		if err != nil {
			a.logLocationError("mount", err)
			return
		}
		a.mu.Lock()
		// A capture-time sample is fresher; keep it.
		if a.lastKnown == nil {
			a.lastKnown = &sample
		}
		a.mu.Unlock()
		a.logger.Info("initial location captured", "lat", sample.Lat, "lng", sample.Lng)
	}()
	return done
}

// Capture runs one full cycle: intake, location, upload. It is rejected
// with ErrCaptureInProgress while another cycle is busy, before any I/O.
func (a *Agent) Capture(ctx context.Context) (*models.UploadResponse, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}

	img, err := a.capturer.Capture(ctx)
	if err != nil {
		if errors.Is(err, ErrNoImage) {
			a.to(StateIdle)
			return nil, err
		}
		return nil, a.fail(fmt.Errorf("capture image: %w", err))
	}

	a.to(StatePreparing)
	lat, lng := a.resolveLocation(ctx)
	now := a.now()
	up := proofapi.UploadRequest{
		FileName:  fmt.Sprintf("proof-%d.jpg", now.UnixMilli()),
		Image:     img.Data,
		Timestamp: now.UTC().Format(isoMillis),
		Lat:       lat,
		Lng:       lng,
	}

	a.to(StateUploading)
	uctx, cancel := proofapi.Timeout(ctx, a.uploadTimeout)
	resp, err := a.uploader.Upload(uctx, a.sessionID, up)
	cancel()
	if err != nil {
		return nil, a.fail(err)
	}

	a.capturer.Reset()
	a.succeed()
	a.logger.Info("proof uploaded", "file", up.FileName, "lat", lat, "lng", lng)
	return resp, nil
}

// Dismiss clears a failure and returns the control to Idle.
func (a *Agent) Dismiss() {
	if a.State() == StateFailed {
		a.to(StateIdle)
	}
}

// Close stops the pending confirmation timer.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.revert != nil {
		a.revert.Stop()
		a.revert = nil
	}
}

func (a *Agent) begin() error {
	a.mu.Lock()
	if !canTransition(a.state, StateCapturing) {
		state := a.state
		a.mu.Unlock()
		a.logger.Debug("capture ignored, control disabled", "state", state)
		return ErrCaptureInProgress
	}
	if a.revert != nil {
		a.revert.Stop()
		a.revert = nil
	}
	a.cycle++
	a.lastErr = ""
	a.state = StateCapturing
	a.mu.Unlock()

	a.notify(StateCapturing)
	return nil
}

func (a *Agent) to(next State) {
	a.mu.Lock()
	if !canTransition(a.state, next) {
		from := a.state
		a.mu.Unlock()
		a.logger.Error("illegal capture transition", "from", from, "to", next)
		return
	}
	a.state = next
	a.mu.Unlock()

	a.notify(next)
}

func (a *Agent) fail(err error) error {
	reason := err.Error()
	var se *proofapi.StatusError
	if errors.As(err, &se) && se.Body != "" {
		reason = se.Body
	}

	a.mu.Lock()
	a.lastErr = reason
	a.mu.Unlock()

	a.logger.Error("proof upload failed", "err", err)
	a.to(StateFailed)
	return err
}

// succeed enters Succeeded and arms the revert to Idle for this cycle. The
// transition, cycle read and timer swap happen under one lock.
func (a *Agent) succeed() {
	a.mu.Lock()
	if !canTransition(a.state, StateSucceeded) {
		from := a.state
		a.mu.Unlock()
		a.logger.Error("illegal capture transition", "from", from, "to", StateSucceeded)
		return
	}
	a.state = StateSucceeded
	cycle := a.cycle
	if a.revert != nil {
		a.revert.Stop()
	}
	a.revert = time.AfterFunc(a.confirmWindow, func() {
		a.mu.Lock()
		if a.state != StateSucceeded || a.cycle != cycle {
			a.mu.Unlock()
			return
		}
		a.state = StateIdle
		a.revert = nil
		a.mu.Unlock()
		a.notify(StateIdle)
	})
	a.mu.Unlock()

	a.notify(StateSucceeded)
}

func (a *Agent) notify(s State) {
	if a.onState != nil {
		a.onState(s)
	}
}

// resolveLocation refreshes the position for this capture, falling back to
// the last known sample, then to empty coordinates. It never fails.
func (a *Agent) resolveLocation(ctx context.Context) (lat, lng string) {
	sample, err := requestPosition(ctx, a.location, LocationOptions{
		HighAccuracy: true,
		Timeout:      a.captureTimeout,
	})
	if err == nil {
		a.mu.Lock()
		a.lastKnown = &sample
		a.mu.Unlock()
		return models.FormatCoordinate(sample.Lat), models.FormatCoordinate(sample.Lng)
	}

	a.logLocationError("capture", err)
	if last, ok := a.LastKnownLocation(); ok {
		a.logger.Info("using cached location", "lat", last.Lat, "lng", last.Lng)
		return models.FormatCoordinate(last.Lat), models.FormatCoordinate(last.Lng)
	}
	a.logger.Warn("no location available to send")
	return "", ""
}

func (a *Agent) logLocationError(phase string, err error) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		a.logger.Warn("location permission denied", "phase", phase)
	case errors.Is(err, ErrLocationTimeout):
		a.logger.Warn("location request timed out", "phase", phase, "err", err)
	default:
		a.logger.Warn("location unavailable", "phase", phase, "err", err)
	}
}
