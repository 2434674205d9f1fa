package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/GalleryGate/internal/crm"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/service"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/types"
	"github.com/BrandonDHaskell/GalleryGate/internal/obs"
)

const validatePath = "/v1/validate_code"

const (
	msgBadJSON      = "invalid JSON body"
	msgCodeRequired = "code is required"
	msgInternal     = "internal server error"
)

// Validator is the decision procedure behind the endpoint.
// *service.CodeValidator satisfies it.
type Validator interface {
	Validate(ctx context.Context, code string) (types.Verdict, error)
}

type Dependencies struct {
	Logger         zerolog.Logger
	Addr           string
	Validator      Validator
	AllowedOrigins []string
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	mux        *http.ServeMux
	validator  Validator
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	s := &Server{
		logger:    d.Logger,
		mux:       mux,
		validator: d.Validator,
	}

	mux.HandleFunc("POST "+validatePath, s.handleValidate)
	mux.HandleFunc("OPTIONS "+validatePath, s.handlePreflight)

	var handler http.Handler = mux
	handler = corsMiddleware(d.AllowedOrigins, handler)
	handler = tracingMiddleware(handler)
	handler = loggingMiddleware(d.Logger, handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	asProto := isProtobuf(r)

	var req types.ValidateRequest
	if asProto {
		var msg structpb.Struct
		if err := readProto(w, r, &msg); err != nil {
			s.respond(w, true, http.StatusBadRequest, types.ValidateResponse{Error: "invalid protobuf body"})
			return
		}
		req = validateRequestFromProto(&msg)
	} else {
		// Unknown fields are tolerated: gallery pages send extra form state.
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := dec.Decode(&req); err != nil {
			s.respond(w, false, http.StatusBadRequest, types.ValidateResponse{Error: msgBadJSON})
			return
		}
	}

	code := req.Candidate()
	if code == "" {
		s.respond(w, asProto, http.StatusBadRequest, types.ValidateResponse{Error: msgCodeRequired})
		return
	}

	verdict, err := s.validator.Validate(r.Context(), code)
	if err != nil {
		evt := s.logger.Error().Err(err).Str("request_id", obs.RequestID(r.Context()))
		var ue *crm.UpstreamError
		switch {
		case errors.As(err, &ue):
			evt.Int("upstream_status", ue.StatusCode).Str("upstream_body", ue.Body).Msg("appointment lookup failed")
		case errors.Is(err, service.ErrMissingConfig):
			evt.Msg("validator is not configured")
		default:
			evt.Msg("validate error")
		}
		s.respond(w, asProto, http.StatusInternalServerError, types.ValidateResponse{Error: msgInternal})
		return
	}

	status := http.StatusOK
	if verdict.Outcome == types.OutcomeInvalidFormat {
		status = http.StatusBadRequest
	}
	s.respond(w, asProto, status, types.ResponseFromVerdict(verdict))
}

func (s *Server) respond(w http.ResponseWriter, asProto bool, status int, resp types.ValidateResponse) {
	if asProto {
		writeProto(w, status, validateResponseToProto(resp))
		return
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
