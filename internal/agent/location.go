package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proof-capture-app/internal/models"
)

// Geolocation failure kinds.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("location unavailable")
	ErrLocationTimeout     = errors.New("location request timed out")
)

// LocationOptions mirrors the platform position request hints.
type LocationOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration // 0 = never reuse a cached position
}

// LocationProvider is the device geolocation capability.
type LocationProvider interface {
	CurrentPosition(ctx context.Context, opts LocationOptions) (models.LocationSample, error)
}

// FixedLocation always reports the same sample.
type FixedLocation struct {
	Sample models.LocationSample
}

func (f FixedLocation) CurrentPosition(ctx context.Context, _ LocationOptions) (models.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return models.LocationSample{}, ErrLocationTimeout
	}
	return f.Sample, nil
}

// DeniedLocation models a device where location access was refused.
type DeniedLocation struct{}

func (DeniedLocation) CurrentPosition(context.Context, LocationOptions) (models.LocationSample, error) {
	return models.LocationSample{}, ErrPermissionDenied
}

type positionResult struct {
	sample models.LocationSample
	err    error
}

// requestPosition time-boxes a provider call. A provider that ignores its
// context still cannot hold the caller past opts.Timeout.
func requestPosition(ctx context.Context, p LocationProvider, opts LocationOptions) (models.LocationSample, error) {
	if p == nil {
		return models.LocationSample{}, ErrPositionUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	done := make(chan positionResult, 1)
	go func() {
		s, err := p.CurrentPosition(ctx, opts)
		done <- positionResult{sample: s, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return models.LocationSample{}, classify(r.err)
		}
		return r.sample, nil
	case <-ctx.Done():
		return models.LocationSample{}, fmt.Errorf("%w after %s", ErrLocationTimeout, opts.Timeout)
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrPositionUnavailable), errors.Is(err, ErrLocationTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrLocationTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
}
