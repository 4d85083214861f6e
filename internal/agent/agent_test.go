package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proof-capture-app/internal/models"
	"proof-capture-app/internal/proofapi"
)

type scriptedLocation struct {
	mu      sync.Mutex
	results []positionResult
	calls   []LocationOptions
}

func (s *scriptedLocation) CurrentPosition(ctx context.Context, opts LocationOptions) (models.LocationSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts)
	if len(s.results) == 0 {
		return models.LocationSample{}, ErrPositionUnavailable
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.sample, r.err
}

// stuckLocation ignores its context and never answers.
type stuckLocation struct{ release chan struct{} }

func (s stuckLocation) CurrentPosition(context.Context, LocationOptions) (models.LocationSample, error) {
	<-s.release
	return models.LocationSample{}, nil
}

type memCapturer struct {
	mu     sync.Mutex
	data   []byte
	err    error
	resets int
}

func (m *memCapturer) Capture(context.Context) (*CapturedImage, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &CapturedImage{Data: m.data, ContentType: "image/jpeg"}, nil
}

func (m *memCapturer) Reset() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}

type recordingUploader struct {
	mu      sync.Mutex
	reqs    []proofapi.UploadRequest
	ids     []string
	err     error
	started chan struct{}
	block   chan struct{}
}

func (u *recordingUploader) Upload(ctx context.Context, sessionID string, up proofapi.UploadRequest) (*models.UploadResponse, error) {
	u.mu.Lock()
	u.reqs = append(u.reqs, up)
	u.ids = append(u.ids, sessionID)
	u.mu.Unlock()
	if u.started != nil {
		u.started <- struct{}{}
	}
	if u.block != nil {
		<-u.block
	}
	if u.err != nil {
		return nil, u.err
	}
	return &models.UploadResponse{Status: "uploaded"}, nil
}

func (u *recordingUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.reqs)
}

var fixedNow = time.Date(2024, 3, 9, 14, 30, 5, 123_000_000, time.UTC)

func newTestAgent(loc LocationProvider, up Uploader, capt ImageCapturer) *Agent {
	return New(Config{
		SessionID:              "abc123",
		Location:               loc,
		Capturer:               capt,
		Uploader:               up,
		CaptureLocationTimeout: 50 * time.Millisecond,
		MountLocationTimeout:   50 * time.Millisecond,
		ConfirmationWindow:     20 * time.Millisecond,
		Now:                    func() time.Time { return fixedNow },
	})
}

func TestCapture_BothLocationsFail_EmptyCoordinates(t *testing.T) {
	loc := &scriptedLocation{results: []positionResult{{err: ErrPermissionDenied}, {err: ErrPermissionDenied}}}
	up := &recordingUploader{}
	a := newTestAgent(loc, up, &memCapturer{data: []byte("img")})
	defer a.Close()

	<-a.Mount(context.Background())
	resp, err := a.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "uploaded", resp.Status)

	require.Equal(t, 1, up.count())
	req := up.reqs[0]
	assert.Equal(t, "", req.Lat)
	assert.Equal(t, "", req.Lng)
	assert.Equal(t, "2024-03-09T14:30:05.123Z", req.Timestamp)
	assert.Equal(t, "proof-1709994605123.jpg", req.FileName)
	assert.Equal(t, []byte("img"), req.Image)
	assert.Equal(t, "abc123", up.ids[0])
}

func TestCapture_FallsBackToMountSample(t *testing.T) {
	loc := &scriptedLocation{results: []positionResult{
		{sample: models.LocationSample{Lat: 12.971599, Lng: 77.594566}},
		{err: ErrLocationTimeout},
	}}
	up := &recordingUploader{}
	a := newTestAgent(loc, up, &memCapturer{data: []byte("img")})
	defer a.Close()

	<-a.Mount(context.Background())
	_, err := a.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "12.971599", up.reqs[0].Lat)
	assert.Equal(t, "77.594566", up.reqs[0].Lng)
}

func TestCapture_FreshSampleWinsAndUpdatesLastKnown(t *testing.T) {
	loc := &scriptedLocation{results: []positionResult{
		{sample: models.LocationSample{Lat: 1, Lng: 2}},
		{sample: models.LocationSample{Lat: 3.25, Lng: -4.5}},
	}}
	up := &recordingUploader{}
	a := newTestAgent(loc, up, &memCapturer{data: []byte("img")})
	defer a.Close()

	<-a.Mount(context.Background())
	_, err := a.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "3.25", up.reqs[0].Lat)
	assert.Equal(t, "-4.5", up.reqs[0].Lng)
	last, ok := a.LastKnownLocation()
	require.True(t, ok)
	assert.Equal(t, models.LocationSample{Lat: 3.25, Lng: -4.5}, last)

	require.Len(t, loc.calls, 2)
	assert.Equal(t, 50*time.Millisecond, loc.calls[1].Timeout)
	assert.True(t, loc.calls[1].HighAccuracy)
	assert.Zero(t, loc.calls[1].MaximumAge)
}

func TestCapture_StuckLocationIsTimeBoxed(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	up := &recordingUploader{}
	a := newTestAgent(stuckLocation{release: release}, up, &memCapturer{data: []byte("img")})
	defer a.Close()

	start := time.Now()
	_, err := a.Capture(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "", up.reqs[0].Lat)
}

func TestCapture_NoLocationProvider(t *testing.T) {
	up := &recordingUploader{}
	a := newTestAgent(nil, up, &memCapturer{data: []byte("img")})
	defer a.Close()

	<-a.Mount(context.Background())
	_, err := a.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", up.reqs[0].Lng)
}

func TestCapture_SecondCaptureRejectedWhileUploading(t *testing.T) {
	up := &recordingUploader{started: make(chan struct{}, 1), block: make(chan struct{})}
	a := newTestAgent(DeniedLocation{}, up, &memCapturer{data: []byte("img")})
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Capture(context.Background())
		errCh <- err
	}()
	<-up.started
	assert.Equal(t, StateUploading, a.State())
	assert.True(t, a.State().Busy())

	_, err := a.Capture(context.Background())
	assert.ErrorIs(t, err, ErrCaptureInProgress)

	close(up.block)
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, up.count(), "only one multipart upload may be in flight")
}

func TestCapture_SuccessRevertsToIdle(t *testing.T) {
	var mu sync.Mutex
	var states []State
	capt := &memCapturer{data: []byte("img")}
	a := New(Config{
		SessionID:          "s",
		Location:           DeniedLocation{},
		Capturer:           capt,
		Uploader:           &recordingUploader{},
		ConfirmationWindow: 20 * time.Millisecond,
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	defer a.Close()

	_, err := a.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, a.State())
	assert.Equal(t, 1, capt.resets)

	require.Eventually(t, func() bool { return a.State() == StateIdle }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []State{StateCapturing, StatePreparing, StateUploading, StateSucceeded, StateIdle}, states)
	mu.Unlock()
}

func TestCapture_CloseStopsRevertAfterBackToBackCycles(t *testing.T) {
	up := &recordingUploader{}
	var (
		a       *Agent
		once    sync.Once
		nested  error
		nestedN int
	)
	a = New(Config{
		SessionID:          "abc123",
		Location:           DeniedLocation{},
		Capturer:           &memCapturer{data: []byte("img")},
		Uploader:           up,
		ConfirmationWindow: 100 * time.Millisecond,
		Now:                func() time.Time { return fixedNow },
		OnStateChange: func(s State) {
			if s != StateSucceeded {
				return
			}
			// A second capture starts the moment the first one succeeds.
			once.Do(func() {
				_, nested = a.Capture(context.Background())
				nestedN = up.count()
			})
		},
	})

	_, err := a.Capture(context.Background())
	require.NoError(t, err)
	require.NoError(t, nested)
	assert.Equal(t, 2, nestedN)
	require.Equal(t, StateSucceeded, a.State())

	// Only the latest cycle holds a timer, so Close leaves no revert behind.
	a.Close()
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, StateSucceeded, a.State())
}

func TestCapture_UploadFailureSurfacesBodyAndRecovers(t *testing.T) {
	capt := &memCapturer{data: []byte("img")}
	up := &recordingUploader{err: &proofapi.StatusError{Op: "upload", StatusCode: 404, Body: "session not found"}}
	a := newTestAgent(DeniedLocation{}, up, capt)
	defer a.Close()

	_, err := a.Capture(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, a.State())
	assert.Equal(t, "session not found", a.LastError())
	assert.Zero(t, capt.resets, "input is only reset on success")

	up.mu.Lock()
	up.err = nil
	up.mu.Unlock()

	_, err = a.Capture(context.Background())
	require.NoError(t, err)
	assert.Empty(t, a.LastError())
	assert.Equal(t, 2, up.count())
}

func TestCapture_NetworkFailure(t *testing.T) {
	up := &recordingUploader{err: errors.New("dial tcp: connection refused")}
	a := newTestAgent(DeniedLocation{}, up, &memCapturer{data: []byte("img")})
	defer a.Close()

	_, err := a.Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, a.LastError(), "connection refused")

	a.Dismiss()
	assert.Equal(t, StateIdle, a.State())
}

func TestCapture_CancelledIntakeReturnsToIdle(t *testing.T) {
	up := &recordingUploader{}
	a := newTestAgent(DeniedLocation{}, up, &memCapturer{err: ErrNoImage})
	defer a.Close()

	_, err := a.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoImage)
	assert.Equal(t, StateIdle, a.State())
	assert.Zero(t, up.count())
}

func TestCapture_EmptySessionIDSentAsIs(t *testing.T) {
	up := &recordingUploader{}
	a := New(Config{Capturer: &memCapturer{data: []byte("x")}, Uploader: up, Location: DeniedLocation{}})
	defer a.Close()

	_, err := a.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{""}, up.ids)
}

func TestTransitions(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateCapturing))
	assert.True(t, canTransition(StateFailed, StateCapturing))
	assert.True(t, canTransition(StateSucceeded, StateCapturing))
	assert.False(t, canTransition(StateUploading, StateCapturing))
	assert.False(t, canTransition(StatePreparing, StateCapturing))
	assert.False(t, canTransition(StateIdle, StateUploading))
	assert.False(t, canTransition(StateCapturing, StateSucceeded))
}

func TestFileCapturer(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	require.NoError(t, os.WriteFile(a, []byte("AAA"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("BBB"), 0o644))

	fc := NewFileCapturer(a, b)
	img, err := fc.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("AAA"), img.Data)

	// Not reset: the same file is offered again.
	img, err = fc.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("AAA"), img.Data)

	fc.Reset()
	img, err = fc.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("BBB"), img.Data)
	fc.Reset()

	_, err = fc.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoImage)
	assert.Zero(t, fc.Remaining())
}

func TestRequestPosition_ClassifiesErrors(t *testing.T) {
	loc := &scriptedLocation{results: []positionResult{{err: errors.New("gps off")}}}
	_, err := requestPosition(context.Background(), loc, LocationOptions{Timeout: time.Second})
	assert.ErrorIs(t, err, ErrPositionUnavailable)

	_, err = requestPosition(context.Background(), DeniedLocation{}, LocationOptions{Timeout: time.Second})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	s, err := requestPosition(context.Background(), FixedLocation{Sample: models.LocationSample{Lat: 1, Lng: 2}}, LocationOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Lat)
}
