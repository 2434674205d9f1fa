package types

import "strings"

// Outcome classifies a verdict.  The wire response only exposes Valid and
// the reason; the outcome drives status codes and the audit log.
type Outcome string

const (
	OutcomeGranted       Outcome = "granted"
	OutcomeInvalidFormat Outcome = "invalid_format"
	OutcomeNoMatch       Outcome = "no_match"
	OutcomeAmbiguous     Outcome = "ambiguous"
	OutcomeBadStartTime  Outcome = "bad_start_time"
	OutcomeOutsideWindow Outcome = "outside_window"
	OutcomeLookupFailed  Outcome = "lookup_failed"
)

// Verdict is the result of validating one code.
type Verdict struct {
	Valid   bool
	Reason  string
	Outcome Outcome
}

// ValidateRequest is the inbound body.  Password is the field name used by
// older gallery pages and is only consulted when Code is blank.
type ValidateRequest struct {
	Code     string `json:"code,omitempty"`
	Password string `json:"password,omitempty"`
}

// Candidate returns the trimmed code, preferring Code over Password.
func (r ValidateRequest) Candidate() string {
	if c := strings.TrimSpace(r.Code); c != "" {
		return c
	}
	return strings.TrimSpace(r.Password)
}

type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ResponseFromVerdict maps a verdict onto the wire shape.
func ResponseFromVerdict(v Verdict) ValidateResponse {
	if v.Valid {
		return ValidateResponse{Valid: true}
	}
	return ValidateResponse{Valid: false, Error: v.Reason}
}
