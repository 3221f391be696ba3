package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pactflow/auth"
	"pactflow/metrics"
	"pactflow/pact"
	"pactflow/storage"
	"pactflow/types"
)

type contextKey string

const ctxKeyCaller contextKey = "caller"

// requestInfo lets the auth middleware report the caller back to the
// request logger that wraps it.
type requestInfo struct {
	caller types.Address
}

const ctxKeyRequestInfo contextKey = "request_info"

// Server exposes the pact service over HTTP.
type Server struct {
	pacts    *pact.Service
	auth     *auth.Service
	balances storage.Balances
	faucet   storage.Faucet
	metrics  *metrics.Registry
	logger   *slog.Logger
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// Routes builds the router. The credit endpoint only exists when a faucet
// is configured (dev mode).
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/challenge", s.handleChallenge)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/accounts/{addr}/balance", s.handleBalance)
		if s.faucet != nil {
			r.Post("/accounts/{addr}/credit", s.handleCredit)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/pacts", s.handleListPacts)
			r.Post("/pacts", s.handleCreatePact)
			r.Get("/pacts/{id}", s.handleGetPact)
			r.Get("/pacts/{id}/timeline", s.handleTimeline)
			r.Get("/pacts/{id}/digest", s.handleDigest)
			r.Get("/pacts/{id}/delegates", s.handleListDelegates)

			r.Post("/pacts/{id}/sign", s.handleSign)
			r.Post("/pacts/{id}/retract", s.handleRetract)
			r.Post("/pacts/{id}/start", s.handleStartOrPause(true))
			r.Post("/pacts/{id}/pause", s.handleStartOrPause(false))
			r.Post("/pacts/{id}/payments", s.handleApprovePayment)
			r.Post("/pacts/{id}/terminate", s.handleTerminate)
			r.Post("/pacts/{id}/fnf", s.handleFullAndFinal)
			r.Post("/pacts/{id}/dispute", s.handleDispute)
			r.Post("/pacts/{id}/delegates", s.handleDelegate)
			r.Post("/pacts/{id}/arbitrators", s.handleProposeArbitrators)
			r.Post("/pacts/{id}/arbitrators/respond", s.handleRespondArbitrators)
			r.Post("/pacts/{id}/arbitrators/resolve", s.handleResolve)
			r.Post("/pacts/{id}/reclaim", s.handleReclaim)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestInfo, info)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(status), elapsed.Seconds())
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if !info.caller.IsZero() {
			attrs = append(attrs, "caller", info.caller.Hex())
		}
		s.log().Info("http request", attrs...)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		caller, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid bearer token")
			return
		}
		if info, ok := r.Context().Value(ctxKeyRequestInfo).(*requestInfo); ok {
			info.caller = caller
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyCaller, caller)))
	})
}

func callerFrom(ctx context.Context) (types.Address, bool) {
	caller, ok := ctx.Value(ctxKeyCaller).(types.Address)
	return caller, ok && !caller.IsZero()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the pact error taxonomy onto HTTP status codes.
var statusFor = map[string]int{
	"not_found":             http.StatusNotFound,
	"invalid_terms":         http.StatusBadRequest,
	"invalid_signature":     http.StatusBadRequest,
	"unauthorized":          http.StatusForbidden,
	"already_signed":        http.StatusConflict,
	"already_accepted":      http.StatusConflict,
	"wrong_state":           http.StatusConflict,
	"not_active":            http.StatusConflict,
	"disputed":              http.StatusConflict,
	"insufficient_stake":    http.StatusUnprocessableEntity,
	"insufficient_amount":   http.StatusUnprocessableEntity,
	"denomination_mismatch": http.StatusUnprocessableEntity,
	"transfer_failed":       http.StatusUnprocessableEntity,
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	code := pact.ErrorCode(err)
	status, ok := statusFor[code]
	if !ok {
		s.log().Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body required")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func pactID(w http.ResponseWriter, r *http.Request) (types.Hash, bool) {
	id, err := types.ParseHash(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "pact id must be 0x followed by 64 hex characters")
		return types.Hash{}, false
	}
	return id, true
}
