package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/localtime"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/store"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/types"
	"github.com/BrandonDHaskell/GalleryGate/internal/obs"
)

const (
	ReasonInvalidFormat = "invalid format"
	ReasonNoMatch       = "no appointment found for today with this code"
	ReasonAmbiguous     = "ambiguous code — multiple appointments match"
	ReasonBadStartTime  = "could not read appointment start time"
)

var codeRe = regexp.MustCompile(`^[A-Za-z0-9]{4}$`)

var tracer = otel.Tracer("github.com/BrandonDHaskell/GalleryGate/internal/gallery/service")

// Lookup is the appointment fetch the validator depends on.
type Lookup interface {
	Today(ctx context.Context, now time.Time) ([]types.Appointment, error)
}

type ValidatorOption func(*CodeValidator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *CodeValidator) { v.now = now }
}

// WithEventStore enables the audit log.
func WithEventStore(es store.ValidationEventStore) ValidatorOption {
	return func(v *CodeValidator) { v.events = es }
}

func WithLogger(l zerolog.Logger) ValidatorOption {
	return func(v *CodeValidator) { v.logger = l }
}

// CodeValidator decides whether a submitted code grants gallery access.
type CodeValidator struct {
	lookup   Lookup
	settings Settings
	events   store.ValidationEventStore
	now      func() time.Time
	logger   zerolog.Logger
}

func NewCodeValidator(lookup Lookup, settings Settings, opts ...ValidatorOption) *CodeValidator {
	v := &CodeValidator{
		lookup:   lookup,
		settings: settings,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs format check, lookup, suffix match, start-time resolution
// and window check, in that order.  Lookup failures are returned as errors;
// every other outcome is a Verdict.
func (v *CodeValidator) Validate(ctx context.Context, code string) (types.Verdict, error) {
	ctx, span := tracer.Start(ctx, "gallery.Validate")
	defer span.End()

	now := v.now().UTC()
	ev := store.ValidationEventRecord{
		RequestID: obs.RequestID(ctx),
		DecidedAt: now,
	}
	if code != "" {
		sum := sha256.Sum256([]byte(code))
		ev.CodeHash = sum[:]
	}

	verdict, err := v.decide(ctx, code, now, &ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		ev.Outcome = types.OutcomeLookupFailed
		v.record(ctx, ev)
		return types.Verdict{}, err
	}

	span.SetAttributes(
		attribute.String("gallery.outcome", string(verdict.Outcome)),
		attribute.Int("gallery.match_count", ev.MatchCount),
	)
	ev.Outcome = verdict.Outcome
	ev.Valid = verdict.Valid
	ev.Reason = verdict.Reason
	v.record(ctx, ev)

	logEvt := v.logger.Debug()
	if verdict.Valid {
		logEvt = v.logger.Info()
	}
	logEvt.
		Str("request_id", ev.RequestID).
		Str("outcome", string(verdict.Outcome)).
		Int("match_count", ev.MatchCount).
		Msg("code validated")

	return verdict, nil
}

func (v *CodeValidator) decide(ctx context.Context, code string, now time.Time, ev *store.ValidationEventRecord) (types.Verdict, error) {
	if !codeRe.MatchString(code) {
		return deny(types.OutcomeInvalidFormat, ReasonInvalidFormat), nil
	}

	appts, err := v.lookup.Today(ctx, now)
	if err != nil {
		return types.Verdict{}, err
	}

	var matched []types.Appointment
	for _, a := range appts {
		if strings.HasSuffix(string(a.ContactID), code) {
			matched = append(matched, a)
		}
	}
	ev.MatchCount = len(matched)

	switch len(matched) {
	case 0:
		return deny(types.OutcomeNoMatch, ReasonNoMatch), nil
	case 1:
	default:
		return deny(types.OutcomeAmbiguous, ReasonAmbiguous), nil
	}

	loc := v.settings.location()
	start, ok := matched[0].StartTime.Resolve(loc)
	if !ok {
		v.logger.Warn().
			Str("request_id", ev.RequestID).
			Str("start_time", matched[0].StartTime.String()).
			Msg("matched appointment has unreadable start time")
		return deny(types.OutcomeBadStartTime, ReasonBadStartTime), nil
	}
	ev.AppointmentStart = &start

	w := v.settings.Window
	opens := start.Add(-w.Before)
	closes := start.Add(w.After)
	if now.Before(opens) || now.After(closes) {
		return deny(types.OutcomeOutsideWindow, fmt.Sprintf(
			"Appointment is at %s but you are outside the access window (%s before → %s after appointment time).",
			localtime.ClockTime(start, loc),
			localtime.HumanDuration(w.Before),
			localtime.HumanDuration(w.After),
		)), nil
	}

	return types.Verdict{Valid: true, Outcome: types.OutcomeGranted}, nil
}

// record appends to the audit log.  A failed write is logged and otherwise
// ignored; it must not change what the customer is told.
func (v *CodeValidator) record(ctx context.Context, ev store.ValidationEventRecord) {
	if v.events == nil {
		return
	}
	if err := v.events.RecordEvent(ctx, ev); err != nil {
		v.logger.Error().Err(err).Str("request_id", ev.RequestID).Msg("audit write failed")
	}
}

func deny(o types.Outcome, reason string) types.Verdict {
	return types.Verdict{Valid: false, Reason: reason, Outcome: o}
}
