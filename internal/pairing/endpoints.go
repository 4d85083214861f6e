// Package pairing derives every address a capture session is reachable at.
// The session id is embedded verbatim in each of them.
package pairing

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Route prefixes shared by the Initiator, the Agent and the Broker.
const (
	CaptureRoute = "/mobile/proof/"
	ChannelRoute = "/ws/proof/"
	SessionRoute = "/api/proof/session"
	UploadRoute  = "/api/proof/upload/"
	ImageRoute   = "/uploads/"
)

const (
	DefaultHost         = "localhost"
	DefaultBackendPort  = "8080"
	DefaultFrontendPort = "3000"
	DefaultAPIBaseURL   = "http://localhost:8080"
)

// ErrNotPairingURL is returned when a URL does not carry the capture route.
var ErrNotPairingURL = errors.New("not a pairing url")

// Endpoints holds the host/port convention both surfaces agree on.
type Endpoints struct {
	Host         string `yaml:"ip"`
	BackendPort  string `yaml:"backend_port"`
	FrontendPort string `yaml:"frontend_port"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// DefaultEndpoints returns the local development convention.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Host:         DefaultHost,
		BackendPort:  DefaultBackendPort,
		FrontendPort: DefaultFrontendPort,
		APIBaseURL:   DefaultAPIBaseURL,
	}
}

// FrontendBaseURL is the mobile-facing origin the QR code points at.
func (e Endpoints) FrontendBaseURL() string {
	return fmt.Sprintf("http://%s:%s", e.Host, e.FrontendPort)
}

// ChannelBaseURL is the origin of the Broker's push channel.
func (e Endpoints) ChannelBaseURL() string {
	return fmt.Sprintf("ws://%s:%s", e.Host, e.BackendPort)
}

// PairingURL is the address rendered as a scannable code.
func (e Endpoints) PairingURL(sessionID string) string {
	return e.FrontendBaseURL() + CaptureRoute + sessionID
}

// ChannelURL is the session-scoped push channel address.
func (e Endpoints) ChannelURL(sessionID string) string {
	return e.ChannelBaseURL() + ChannelRoute + sessionID
}

func (e Endpoints) SessionURL() string {
	return strings.TrimRight(e.APIBaseURL, "/") + SessionRoute
}

func (e Endpoints) UploadURL(sessionID string) string {
	return strings.TrimRight(e.APIBaseURL, "/") + UploadRoute + sessionID
}

// ImageURL builds the retrieval address for the image field of a notification.
func (e Endpoints) ImageURL(image string) string {
	return strings.TrimRight(e.APIBaseURL, "/") + ImageRoute + image
}

// SessionIDFromPairingURL returns the route parameter of a pairing URL.
// The id is not validated; the Broker decides whether it is usable.
func SessionIDFromPairingURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse pairing url: %w", err)
	}
	idx := strings.Index(u.Path, CaptureRoute)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrNotPairingURL, raw)
	}
	return u.Path[idx+len(CaptureRoute):], nil
}

// ResolveSessionID accepts either a bare session id or a full pairing URL.
func ResolveSessionID(arg string) (string, error) {
	if strings.Contains(arg, "://") {
		return SessionIDFromPairingURL(arg)
	}
	return arg, nil
}
