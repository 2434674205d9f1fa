package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/GalleryGate/internal/crm"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/service"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/store/memory"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/types"
	"github.com/BrandonDHaskell/GalleryGate/internal/httpapi"
)

const appointmentsBody = `{"appointments":[{"contactId":"hsAZzqlAcxscd0xlWZ0e","startTime":"2024-01-01T15:00:00Z"}]}`

type testEnv struct {
	server        *httptest.Server
	upstreamCalls *int32
	events        *memory.ValidationEventStore
}

// newTestServer wires the full dependency graph against a fake scheduling
// service that answers with upstreamStatus/upstreamBody, and a clock fixed
// at now.
func newTestServer(t *testing.T, now time.Time, upstreamStatus int, upstreamBody string) *testEnv {
	t.Helper()

	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(upstreamStatus)
		_, _ = io.WriteString(w, upstreamBody)
	}))
	t.Cleanup(upstream.Close)

	settings := service.Settings{
		LocationID: "loc-1",
		APIKey:     "key",
		Location:   time.UTC,
		Window:     service.DefaultAccessWindow,
	}
	client := crm.NewClient(crm.Options{BaseURL: upstream.URL})
	lookup := service.NewAppointmentLookup(client, settings)
	events := memory.NewValidationEventStore()
	validator := service.NewCodeValidator(lookup, settings,
		service.WithClock(func() time.Time { return now }),
		service.WithEventStore(events),
	)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:         zerolog.Nop(),
		Addr:           ":0",
		Validator:      validator,
		AllowedOrigins: []string{"*"},
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, upstreamCalls: &calls, events: events}
}

func postJSON(t *testing.T, url, body string) (*http.Response, types.ValidateResponse) {
	t.Helper()
	resp, err := http.Post(url+"/v1/validate_code", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var vr types.ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, vr
}

var (
	inWindow  = time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC)
	outWindow = time.Date(2024, 1, 1, 20, 0, 1, 0, time.UTC)
)

// ── Validation ───────────────────────────────────────────────────────────────

func TestValidate_Granted(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	resp, vr := postJSON(t, env.server.URL, `{"code":"WZ0e"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !vr.Valid {
		t.Errorf("expected valid=true, got %+v", vr)
	}
	if vr.Error != "" {
		t.Errorf("expected no error field, got %q", vr.Error)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if events := env.events.Events(); len(events) != 1 || events[0].RequestID != resp.Header.Get("X-Request-ID") {
		t.Errorf("expected audit event tagged with the request id, got %+v", events)
	}
}

func TestValidate_GrantedBodyShape(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	resp, err := http.Post(env.server.URL+"/v1/validate_code", "application/json",
		bytes.NewReader([]byte(`{"code":"WZ0e"}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if got := string(bytes.TrimSpace(raw)); got != `{"valid":true}` {
		t.Errorf("expected {\"valid\":true}, got %s", got)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestValidate_OutsideWindow_200(t *testing.T) {
	env := newTestServer(t, outWindow, http.StatusOK, appointmentsBody)

	resp, vr := postJSON(t, env.server.URL, `{"code":"WZ0e"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	want := "Appointment is at 3:00 PM but you are outside the access window (2 hours before → 4 hours after appointment time)."
	if vr.Valid || vr.Error != want {
		t.Errorf("expected %q, got %+v", want, vr)
	}
}

func TestValidate_LegacyPasswordField(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	_, vr := postJSON(t, env.server.URL, `{"password":"  WZ0e  "}`)
	if !vr.Valid {
		t.Errorf("expected legacy field to be accepted, got %+v", vr)
	}
}

func TestValidate_PrimaryFieldPreferred(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	_, vr := postJSON(t, env.server.URL, `{"code":"ZZZZ","password":"WZ0e"}`)
	if vr.Valid {
		t.Error("expected code to win over password")
	}
	if vr.Error != service.ReasonNoMatch {
		t.Errorf("expected no-match reason, got %q", vr.Error)
	}
}

// ── Client errors ────────────────────────────────────────────────────────────

func TestValidate_InvalidFormat_400_NoUpstreamCall(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	resp, vr := postJSON(t, env.server.URL, `{"code":"WZ0"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if vr.Error != service.ReasonInvalidFormat {
		t.Errorf("expected %q, got %q", service.ReasonInvalidFormat, vr.Error)
	}
	if n := atomic.LoadInt32(env.upstreamCalls); n != 0 {
		t.Errorf("expected no upstream call, got %d", n)
	}
}

func TestValidate_MissingCode_400(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	resp, vr := postJSON(t, env.server.URL, `{"code":"   "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if vr.Valid || vr.Error != "code is required" {
		t.Errorf("expected code is required, got %+v", vr)
	}
}

func TestValidate_InvalidJSON_400(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	resp, vr := postJSON(t, env.server.URL, `not json at all`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if vr.Error != "invalid JSON body" {
		t.Errorf("expected invalid JSON body, got %q", vr.Error)
	}
}

func TestValidate_WrongMethod_405(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	resp, err := http.Get(env.server.URL + "/v1/validate_code")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

// ── Server errors ────────────────────────────────────────────────────────────

func TestValidate_UpstreamFailure_500Generic(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusInternalServerError, `{"secret":"internal detail"}`)

	resp, vr := postJSON(t, env.server.URL, `{"code":"WZ0e"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if vr.Valid {
		t.Error("expected valid=false")
	}
	if vr.Error != "internal server error" {
		t.Errorf("expected generic message, got %q", vr.Error)
	}
}

func TestValidate_MalformedUpstream_500(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, `<html>`)

	resp, _ := postJSON(t, env.server.URL, `{"code":"WZ0e"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

// ── CORS ─────────────────────────────────────────────────────────────────────

func TestPreflight_204WithCORSHeaders(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/v1/validate_code", nil)
	req.Header.Set("Origin", "https://gallery.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected allow-origin *, got %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Errorf("expected allow-methods POST, OPTIONS, got %q", got)
	}
	if n := atomic.LoadInt32(env.upstreamCalls); n != 0 {
		t.Errorf("expected preflight not to reach the validator, got %d upstream calls", n)
	}
}

// ── Protobuf ─────────────────────────────────────────────────────────────────

func TestValidate_Protobuf(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	reqMsg, err := structpb.NewStruct(map[string]any{"code": "WZ0e"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	body, err := proto.Marshal(reqMsg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(env.server.URL+"/v1/validate_code", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("expected protobuf response, got %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.GetFields()["valid"].GetBoolValue() {
		t.Errorf("expected valid=true, got %v", out.AsMap())
	}
}

func TestValidate_ProtobufOversizedBodyRejected(t *testing.T) {
	env := newTestServer(t, inWindow, http.StatusOK, appointmentsBody)

	// A padding message of exactly 4096 bytes followed by the code.  Reading
	// only the first 4096 bytes would decode cleanly and drop the code.
	var padding []byte
	for n := 4000; ; n++ {
		msg, err := structpb.NewStruct(map[string]any{"pad": string(bytes.Repeat([]byte("x"), n))})
		if err != nil {
			t.Fatalf("NewStruct: %v", err)
		}
		padding, err = proto.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if len(padding) >= 4096 {
			break
		}
	}
	codeMsg, _ := structpb.NewStruct(map[string]any{"code": "WZ0e"})
	tail, err := proto.Marshal(codeMsg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := append(padding, tail...)

	resp, err := http.Post(env.server.URL+"/v1/validate_code", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := out.GetFields()["error"].GetStringValue(); got != "invalid protobuf body" {
		t.Errorf("expected invalid protobuf body, got %q", got)
	}
	if n := atomic.LoadInt32(env.upstreamCalls); n != 0 {
		t.Errorf("expected no upstream call, got %d", n)
	}
}
