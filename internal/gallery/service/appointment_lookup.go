package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/localtime"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/types"
)

// ErrMissingConfig means the lookup was reached without a location or
// credential.  Config validation normally stops this at startup.
var ErrMissingConfig = errors.New("scheduling service location id and api key are required")

// AccessWindow is how long before and after an appointment's start its
// code is honored.  Both bounds are inclusive.
type AccessWindow struct {
	Before time.Duration
	After  time.Duration
}

// DefaultAccessWindow is two hours before to four hours after.
var DefaultAccessWindow = AccessWindow{Before: 2 * time.Hour, After: 4 * time.Hour}

// Settings is the immutable configuration shared by AppointmentLookup and
// CodeValidator.  APIKey is the only copy of the scheduling credential; the
// lookup hands it to the source on every call.
type Settings struct {
	LocationID string
	APIKey     string

	// Location is the gallery's fixed-offset zone; nil means UTC.
	Location *time.Location
	Window   AccessWindow
}

func (s Settings) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// AppointmentSource is the scheduling service read used by the lookup.
// *crm.Client satisfies it.
type AppointmentSource interface {
	ListAppointments(ctx context.Context, apiKey, locationID string, start, end time.Time) ([]types.Appointment, error)
}

// AppointmentLookup fetches the gallery's appointments for its local day.
type AppointmentLookup struct {
	source   AppointmentSource
	settings Settings
}

func NewAppointmentLookup(src AppointmentSource, settings Settings) *AppointmentLookup {
	return &AppointmentLookup{source: src, settings: settings}
}

// Today returns every appointment on the local day containing now.  It makes
// exactly one upstream call and does not retry.
func (l *AppointmentLookup) Today(ctx context.Context, now time.Time) ([]types.Appointment, error) {
	if strings.TrimSpace(l.settings.LocationID) == "" || strings.TrimSpace(l.settings.APIKey) == "" {
		return nil, ErrMissingConfig
	}

	day := localtime.DayOf(now, l.settings.location())
	appts, err := l.source.ListAppointments(ctx, l.settings.APIKey, l.settings.LocationID, day.Start, day.End)
	if err != nil {
		return nil, fmt.Errorf("list appointments %s..%s: %w",
			day.Start.Format(time.RFC3339), day.End.Format(time.RFC3339), err)
	}
	return appts, nil
}
