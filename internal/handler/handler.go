package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/openlms/auth-service/internal/infrastructure/auth"
	"github.com/openlms/auth-service/internal/models"
	service "github.com/openlms/auth-service/internal/services"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
)

type Handler struct {
	service service.AuthService
}

func NewHandler(s service.AuthService) *Handler {
	return &Handler{service: s}
}

type errorResponse struct {
	Error string `json:"error"`
}

type loginResponse struct {
	models.TokenPair
	TokenType string   `json:"token_type"`
	UserID    int32    `json:"user_id"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/refresh", h.Refresh).Methods("POST")
	r.HandleFunc("/request-password-reset", h.RequestPasswordReset).Methods("POST")
	r.HandleFunc("/reset-password", h.ResetPassword).Methods("POST")
	r.HandleFunc("/verify-email", h.VerifyEmail).Methods("POST")
	r.HandleFunc("/resend-verification", h.ResendVerification).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/me", h.Me).Methods("GET")
	r.HandleFunc("/logout", h.Logout).Methods("POST")
	r.HandleFunc("/logout-all", h.LogoutAll).Methods("POST")
}

func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/users/{id:[0-9]+}/deactivate", h.DeactivateUser).Methods("POST")
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, _, err := h.service.Register(r.Context(), req.Username, req.Email, req.FirstName, req.LastName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrUserAlreadyExists), errors.Is(err, pkgerrors.ErrEmailExists):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user_id":  user.ID,
		"uuid":     user.UUID,
		"username": user.Username,
		"message":  "Registration successful. Please check your email to verify your account.",
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	accessToken, expiresAt, err := h.service.IssueAccessToken(user)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	refreshToken, err := h.service.IssueRefreshToken(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, loginResponse{
		TokenPair: models.TokenPair{
			AccessToken:  accessToken,
			ExpiresAt:    expiresAt,
			RefreshToken: refreshToken,
		},
		TokenType: "bearer",
		UserID:    user.ID,
		Username:  user.Username,
		Roles:     user.Roles,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	accessToken, expiresAt, err := h.service.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrTokenInvalidOrExpired), errors.Is(err, pkgerrors.ErrInactiveAccount):
			h.writeError(w, http.StatusUnauthorized, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "bearer",
		"expires_at":   expiresAt,
	})
}

const resetRequestedMessage = "If the email is registered, a password reset link will be sent."

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	// Response is identical whether or not the account exists.
	if _, err := h.service.CreateResetToken(r.Context(), req.Email); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": resetRequestedMessage})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.service.ConsumeResetToken(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrTokenInvalidOrExpired):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset successfully"})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, pkgerrors.ErrTokenInvalidOrExpired) {
			h.writeError(w, http.StatusBadRequest, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the email is registered, a verification link will be sent.",
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	user, err := h.service.ResolveActiveUser(r.Context(), claims)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInactiveAccount):
			h.writeError(w, http.StatusForbidden, err)
		case errors.Is(err, pkgerrors.ErrInvalidToken):
			h.writeError(w, http.StatusUnauthorized, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.ID,
		"uuid":        user.UUID,
		"username":    user.Username,
		"email":       user.Email,
		"first_name":  user.FirstName,
		"last_name":   user.LastName,
		"is_verified": user.IsVerified,
		"roles":       user.Roles,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	revoked, err := h.service.Revoke(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !revoked {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrTokenInvalidOrExpired)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	count, err := h.service.RevokeAll(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Logged out everywhere",
		"tokens_revoked": count,
	})
}

func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.service.DeactivateUser(r.Context(), int32(id)); err != nil {
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "User deactivated"})
}
