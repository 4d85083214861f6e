package models

import (
	"strconv"
	"time"
)

// CaptureNotification describes one stored upload, pushed by the Broker to
// every subscriber of the session channel. Only Image is guaranteed.
type CaptureNotification struct {
	Image     string `json:"image"`
	Lat       string `json:"lat"`
	Lng       string `json:"lng"`
	Timestamp string `json:"timestamp"`
}

// HasLocation reports whether both coordinates were sent.
func (n CaptureNotification) HasLocation() bool {
	_, _, ok := n.Coordinates()
	return ok
}

// Coordinates parses lat/lng. ok is false when either is empty or not a number.
func (n CaptureNotification) Coordinates() (lat, lng float64, ok bool) {
	if n.Lat == "" || n.Lng == "" {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(n.Lat, 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err = strconv.ParseFloat(n.Lng, 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

// CapturedAt parses the capture-device timestamp.
func (n CaptureNotification) CapturedAt() (time.Time, bool) {
	if n.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, n.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LocationSample is one reading from a device geolocation capability
type LocationSample struct {
	Lat float64
	Lng float64
}

// FormatCoordinate renders a coordinate the way it is sent in an upload form.
func FormatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
