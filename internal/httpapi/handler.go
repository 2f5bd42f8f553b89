// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the account manager over HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/auth"
	"github.com/holomush/accounts/pkg/errutil"
)

// maxBodyBytes bounds request bodies. Passwords are capped well below it.
const maxBodyBytes = 16 << 10

// Service is the account surface served by the API. *auth.Manager
// implements it.
type Service interface {
	Register(ctx context.Context, username, password string) (*auth.User, error)
	Login(ctx context.Context, username, password string) (*auth.Session, auth.Token, error)
	ValidateSession(ctx context.Context, token auth.Token) (*auth.User, error)
	ChangePassword(ctx context.Context, token auth.Token, oldPassword, newPassword string) error
	UpdateProfile(ctx context.Context, token auth.Token, patch auth.ProfilePatch) (auth.PublicUser, error)
	Logout(ctx context.Context, token auth.Token) error
	DeleteAccount(ctx context.Context, token auth.Token, password string) error
	GetUser(ctx context.Context, id string) (auth.PublicUser, error)
	FindUser(ctx context.Context, username string) (auth.PublicUser, error)
	ListSessions(ctx context.Context, token auth.Token) ([]*auth.Session, error)
}

var _ Service = (*auth.Manager)(nil)

// RequestObserver records completed requests by route pattern.
type RequestObserver interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

// Handler routes API requests to the Service.
type Handler struct {
	svc      Service
	logger   *slog.Logger
	observer RequestObserver
	timeout  time.Duration
	mux      *http.ServeMux
	root     http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver sets the request metrics sink.
func WithObserver(o RequestObserver) Option {
	return func(h *Handler) {
		h.observer = o
	}
}

// WithRequestTimeout bounds the time a request may spend in the Service.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// New creates a Handler for svc.
func New(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	h.root = Chain(h.mux, Recover(h.logger), RequestTimeout(h.timeout))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.handle("POST /v1/users", h.handleRegister)
	h.handle("GET /v1/users", h.handleFindUser)
	h.handle("GET /v1/users/{id}", h.handleGetUser)
	h.handle("PATCH /v1/users/me", h.handleUpdateProfile)
	h.handle("DELETE /v1/users/me", h.handleDeleteAccount)

	h.handle("POST /v1/sessions", h.handleLogin)
	h.handle("GET /v1/session", h.handleValidateSession)
	h.handle("DELETE /v1/session", h.handleLogout)
	h.handle("GET /v1/session/all", h.handleListSessions)
	h.handle("PUT /v1/session/password", h.handleChangePassword)
}

// handle registers fn under pattern, instrumented with the pattern as its
// route label.
func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	h.mux.Handle(pattern, Observe(pattern, h.logger, h.observer)(fn))
}

// bearerToken extracts the session token from the Authorization header or
// the Token header. A missing token yields "", which the Service rejects.
func bearerToken(r *http.Request) auth.Token {
	if v := r.Header.Get("Authorization"); v != "" {
		scheme, token, ok := strings.Cut(v, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return auth.Token(strings.TrimSpace(token))
		}
		return ""
	}
	return auth.Token(strings.TrimSpace(r.Header.Get("Token")))
}

// decode reads a JSON body into dst, rejecting unknown fields and trailing
// data.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return oops.Code(auth.CodeInvalidInput).With("field", "body").Wrapf(err, "malformed request body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return oops.Code(auth.CodeInvalidInput).With("field", "body").Errorf("request body must contain a single JSON object")
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.DebugContext(r.Context(), "failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps caller-facing error codes to HTTP statuses. Anything else
// is an internal failure.
func statusFor(code string) int {
	switch code {
	case auth.CodeInvalidInput:
		return http.StatusBadRequest
	case auth.CodeDuplicateUsername:
		return http.StatusConflict
	case auth.CodeInvalidCredentials, auth.CodeSessionInvalid:
		return http.StatusUnauthorized
	case auth.CodeUnknownUser:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal failures are logged and answered with a
// generic message so no storage detail reaches the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	status := statusFor(code)

	detail := errorDetail{Code: code, Message: err.Error()}
	if status == http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), h.logger, slog.LevelError, "request failed", err)
		detail = errorDetail{Code: auth.CodeInternal, Message: "internal error"}
	} else if oopsErr, ok := oops.AsOops(err); ok {
		if field, ok := oopsErr.Context()["field"].(string); ok {
			detail.Field = field
		}
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="accounts"`)
	}
	h.writeJSON(w, r, status, errorBody{Error: detail})
}
