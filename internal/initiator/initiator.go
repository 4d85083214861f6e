// Package initiator implements the desktop side of capture pairing: it
// obtains a session, exposes its pairing URL, and collects the capture
// notifications pushed on the session channel.
package initiator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"proof-capture-app/internal/models"
	"proof-capture-app/internal/pairing"
	"proof-capture-app/internal/websocket"
)

var (
	ErrNoSession         = errors.New("no proof session")
	ErrAlreadyStarted    = errors.New("proof session already requested")
	ErrNotFailed         = errors.New("retry is only possible after a failed session request")
	ErrAlreadySubscribed = errors.New("already subscribed to the proof channel")
	ErrClosed            = errors.New("initiator closed")
)

// SessionCreator issues sessions; *proofapi.Client satisfies it.
type SessionCreator interface {
	CreateSession(ctx context.Context) (string, error)
}

// Phase is the session-request lifecycle.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseLoading
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Config struct {
	Sessions   SessionCreator
	Dial       ChannelDialer // default DialWebSocket
	Endpoints  pairing.Endpoints
	Reconnect  ReconnectPolicy
	HTTPClient *http.Client // used by the gallery to fetch images
	Logger     *slog.Logger

	// OnCapture runs on the receive goroutine after each append.
	OnCapture func(index int, n models.CaptureNotification)
	// OnChannelState runs on every channel state change.
	OnChannelState func(ChannelState)
}

// Initiator owns one session for the lifetime of one view.
type Initiator struct {
	sessions  SessionCreator
	dial      ChannelDialer
	endpoints pairing.Endpoints
	reconnect ReconnectPolicy
	logger    *slog.Logger
	onCapture func(int, models.CaptureNotification)
	onState   func(ChannelState)
	gallery   *Gallery

	mu         sync.Mutex
	phase      Phase
	sessionID  string
	sessionErr error
	state      ChannelState
	subscribed bool
	conn       SessionChannel
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool
}

func New(cfg Config) *Initiator {
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Initiator{
		sessions:  cfg.Sessions,
		dial:      cfg.Dial,
		endpoints: cfg.Endpoints,
		reconnect: cfg.Reconnect,
		logger:    cfg.Logger,
		onCapture: cfg.OnCapture,
		onState:   cfg.OnChannelState,
		gallery:   NewGallery(cfg.Endpoints, cfg.HTTPClient),
	}
}

// Start requests the session and subscribes to its channel. A channel
// failure is not returned: the gallery stays usable without it.
func (in *Initiator) Start(ctx context.Context) error {
	if _, err := in.CreateSession(ctx); err != nil {
		return err
	}
	if err := in.Subscribe(ctx); err != nil && !isChannelError(err) {
		return err
	}
	return nil
}

// CreateSession requests a session. It runs at most once per Initiator;
// use Retry after a failure.
func (in *Initiator) CreateSession(ctx context.Context) (string, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return "", ErrClosed
	}
	if in.phase != PhaseNew {
		in.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	in.phase = PhaseLoading
	in.mu.Unlock()

	return in.create(ctx)
}

// Retry repeats a failed session request, like reloading the page.
func (in *Initiator) Retry(ctx context.Context) (string, error) {
	in.mu.Lock()
	if in.phase != PhaseFailed {
		in.mu.Unlock()
		return "", ErrNotFailed
	}
	in.phase = PhaseLoading
	in.sessionErr = nil
	in.mu.Unlock()

	return in.create(ctx)
}

func (in *Initiator) create(ctx context.Context) (string, error) {
	id, err := in.sessions.CreateSession(ctx)

	in.mu.Lock()
	defer in.mu.Unlock()
	if err != nil {
		in.phase = PhaseFailed
		in.sessionErr = err
		in.logger.Error("proof session request failed", "err", err)
		return "", fmt.Errorf("create proof session: %w", err)
	}
	in.phase = PhaseReady
	in.sessionID = id
	in.logger.Info("proof session ready", "session", id)
	return id, nil
}

// Status returns the session phase and, when failed, the reason.
func (in *Initiator) Status() (Phase, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.phase, in.sessionErr
}

func (in *Initiator) SessionID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.sessionID
}

// PairingURL is the address to render as a code. There is none without a session.
func (in *Initiator) PairingURL() (string, error) {
	id := in.SessionID()
	if id == "" {
		return "", ErrNoSession
	}
	return in.endpoints.PairingURL(id), nil
}

// ChannelURL is the session channel address.
func (in *Initiator) ChannelURL() (string, error) {
	id := in.SessionID()
	if id == "" {
		return "", ErrNoSession
	}
	return in.endpoints.ChannelURL(id), nil
}

func (in *Initiator) Gallery() *Gallery { return in.gallery }

// Captures returns the received notifications in arrival order.
func (in *Initiator) Captures() []models.CaptureNotification {
	return in.gallery.Captures()
}

func (in *Initiator) ChannelState() ChannelState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

type channelError struct{ err error }

func (e *channelError) Error() string { return "proof channel: " + e.err.Error() }
func (e *channelError) Unwrap() error { return e.err }

func isChannelError(err error) bool {
	var ce *channelError
	return errors.As(err, &ce)
}

// Subscribe opens the session channel once a session id is known. Each
// message is appended to the gallery tail in arrival order.
func (in *Initiator) Subscribe(ctx context.Context) error {
	in.mu.Lock()
	switch {
	case in.closed:
		in.mu.Unlock()
		return ErrClosed
	case in.sessionID == "":
		in.mu.Unlock()
		return ErrNoSession
	case in.subscribed:
		in.mu.Unlock()
		return ErrAlreadySubscribed
	}
	in.subscribed = true
	address := in.endpoints.ChannelURL(in.sessionID)
	runCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})
	in.mu.Unlock()

	conn, err := in.dial(runCtx, address)
	if err != nil {
		in.logger.Warn("proof channel connect failed", "address", address, "err", err)
		if !in.reconnect.Enabled() {
			in.setState(ChannelDisconnected)
			close(in.done)
			return &channelError{err: err}
		}
		go in.run(runCtx, nil, address)
		return nil
	}

	if !in.attach(conn) {
		conn.Close()
		close(in.done)
		return ErrClosed
	}
	in.logger.Info("proof channel connected", "address", address)
	in.setState(ChannelConnected)
	go in.run(runCtx, conn, address)
	return nil
}

// attach records conn as the live channel unless the Initiator was closed.
func (in *Initiator) attach(conn SessionChannel) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	in.conn = conn
	return true
}

func (in *Initiator) isClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

func (in *Initiator) run(ctx context.Context, conn SessionChannel, address string) {
	defer close(in.done)

	if conn == nil {
		if conn = in.redial(ctx, address); conn == nil {
			return
		}
	}

	for {
		data, err := conn.Receive()
		if err != nil {
			if in.isClosed() || ctx.Err() != nil {
				return
			}
			if websocket.IsNormalClose(err) {
				in.logger.Info("proof channel closed by broker", "address", address)
			} else {
				in.logger.Warn("proof channel error", "address", address, "err", err)
			}
			conn.Close()
			if conn = in.redial(ctx, address); conn == nil {
				return
			}
			continue
		}
		in.handleMessage(data)
	}
}

// redial applies the reconnect policy. It returns nil when the channel
// should stay down.
func (in *Initiator) redial(ctx context.Context, address string) SessionChannel {
	if !in.reconnect.Enabled() {
		in.setState(ChannelDisconnected)
		return nil
	}
	in.setState(ChannelReconnecting)

	for attempt := 0; !in.reconnect.exhausted(attempt); attempt++ {
		delay := in.reconnect.Delay(attempt)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := in.dial(ctx, address)
		if err != nil {
			in.logger.Warn("proof channel reconnect failed", "attempt", attempt+1, "backoff", delay, "err", err)
			continue
		}
		if !in.attach(conn) {
			conn.Close()
			return nil
		}
		in.logger.Info("proof channel reconnected", "attempt", attempt+1)
		in.setState(ChannelConnected)
		return conn
	}

	in.logger.Warn("proof channel gave up reconnecting", "attempts", in.reconnect.MaxAttempts)
	in.setState(ChannelDisconnected)
	return nil
}

func (in *Initiator) handleMessage(data []byte) {
	var n models.CaptureNotification
	if err := json.Unmarshal(data, &n); err != nil {
		in.logger.Warn("unparsable proof notification", "err", err)
		return
	}
	if n.Image == "" {
		in.logger.Warn("proof notification without image", "payload", string(data))
		return
	}

	idx := in.gallery.Append(n)
	in.logger.Info("proof capture received", "index", idx, "image", n.Image, "has_location", n.HasLocation())
	if in.onCapture != nil {
		in.onCapture(idx, n)
	}
}

func (in *Initiator) setState(s ChannelState) {
	in.mu.Lock()
	if in.state == s || (in.state == ChannelClosed && s != ChannelClosed) {
		in.mu.Unlock()
		return
	}
	in.state = s
	in.mu.Unlock()

	if in.onState != nil {
		in.onState(s)
	}
}

// Close tears the view down: the channel is closed if open and the
// receive loop is stopped. Repeated calls return nil.
func (in *Initiator) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	conn, cancel, done := in.conn, in.cancel, in.done
	in.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	in.setState(ChannelClosed)
	return err
}
