// Package crm is a minimal client for the scheduling service that owns the
// gallery's appointments.  It issues a single read per call and never
// retries.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/types"
)

// maxResponseBody caps how much of an upstream body is read.  A full day of
// appointments for one location is far below this.
const maxResponseBody = 4 << 20

// maxErrorBody is how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

var tracer = otel.Tracer("github.com/BrandonDHaskell/GalleryGate/internal/crm")

// UpstreamError reports a non-2xx status or an unreadable body.  It is
// logged by callers and never shown to end users.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scheduling service: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("scheduling service: status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

type Options struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(opt Options) *Client {
	hc := opt.HTTPClient
	if hc == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/"),
		http:    hc,
	}
}

type appointmentsResponse struct {
	Appointments *[]types.Appointment `json:"appointments"`
}

// ListAppointments fetches appointments for locationID whose start falls in
// [start, end], authenticating with apiKey.  Bounds are sent as UTC epoch
// milliseconds.
func (c *Client) ListAppointments(ctx context.Context, apiKey, locationID string, start, end time.Time) ([]types.Appointment, error) {
	ctx, span := tracer.Start(ctx, "crm.ListAppointments")
	defer span.End()

	q := url.Values{}
	q.Set("locationId", locationID)
	q.Set("startDate", strconv.FormatInt(start.UTC().UnixMilli(), 10))
	q.Set("endDate", strconv.FormatInt(end.UTC().UnixMilli(), 10))
	endpoint := c.baseURL + "/appointments?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("scheduling service request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		span.SetStatus(codes.Error, "read body")
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	var out appointmentsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		span.SetStatus(codes.Error, "decode body")
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       truncate(body),
			Err:        fmt.Errorf("decode body: %w", err),
		}
	}
	if out.Appointments == nil {
		// A success body without the list is not something we can trust
		// as "no appointments today".
		span.SetStatus(codes.Error, "missing appointments")
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       truncate(body),
			Err:        fmt.Errorf("decode body: missing appointments list"),
		}
	}

	span.SetAttributes(attribute.Int("gallery.appointments", len(*out.Appointments)))
	return *out.Appointments, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "…"
	}
	return string(b)
}
