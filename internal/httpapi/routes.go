// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/auth"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

// profileRequest lists the attributes a PATCH may change. Absent fields are
// left alone; an empty email clears it.
type profileRequest struct {
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
}

func (p profileRequest) patch() auth.ProfilePatch {
	var patch auth.ProfilePatch
	if p.Username != nil {
		patch = append(patch, auth.Rename{Username: *p.Username})
	}
	if p.DisplayName != nil {
		patch = append(patch, auth.SetDisplayName{DisplayName: *p.DisplayName})
	}
	if p.Email != nil {
		patch = append(patch, auth.SetEmail{Email: *p.Email})
	}
	return patch
}

type userRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionView struct {
	ID        string    `json:"id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.svc.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/users/"+user.ID.String())
	h.writeJSON(w, r, http.StatusCreated, userRef{ID: user.ID.String(), Username: user.Username})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, r, http.StatusOK, loginResponse{
		Token:     string(token),
		SessionID: session.ID.String(),
		ExpiresAt: session.ExpiresAt,
	})
}

func (h *Handler) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.ValidateSession(r.Context(), bearerToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, userRef{ID: user.ID.String(), Username: user.Username})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.svc.ChangePassword(r.Context(), bearerToken(r), req.OldPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), bearerToken(r), req.patch())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), bearerToken(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.svc.DeleteAccount(r.Context(), bearerToken(r), req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, user)
}

func (h *Handler) handleFindUser(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		h.writeError(w, r, oops.Code(auth.CodeInvalidInput).With("field", "username").
			Errorf("username query parameter is required"))
		return
	}

	user, err := h.svc.FindUser(r.Context(), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, user)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context(), bearerToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{ID: s.ID.String(), IssuedAt: s.IssuedAt, ExpiresAt: s.ExpiresAt})
	}
	h.writeJSON(w, r, http.StatusOK, views)
}
