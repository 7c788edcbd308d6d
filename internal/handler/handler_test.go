package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/mux"
	"github.com/openlms/auth-service/internal/infrastructure/auth"
	"github.com/openlms/auth-service/internal/models"
	servicemocks "github.com/openlms/auth-service/internal/services/mocks"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, h http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandler_Login(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := servicemocks.NewMockAuthService(ctrl)
	h := NewHandler(svc)

	user := &models.User{ID: 1, Username: "testuser", Roles: []string{"student"}}

	t.Run("success", func(t *testing.T) {
		expiresAt := time.Now().Add(time.Hour)
		svc.EXPECT().Authenticate(gomock.Any(), "testuser", "pass").Return(user, nil)
		svc.EXPECT().IssueAccessToken(user).Return("access-jwt", expiresAt, nil)
		svc.EXPECT().IssueRefreshToken(gomock.Any(), int32(1)).Return("refresh-opaque", nil)

		rec := postJSON(t, h.Login, "/auth/login", `{"username":"testuser","password":"pass"}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "access-jwt", body["access_token"])
		assert.Equal(t, "refresh-opaque", body["refresh_token"])
		assert.Equal(t, "bearer", body["token_type"])
	})

	t.Run("invalid credentials", func(t *testing.T) {
		svc.EXPECT().Authenticate(gomock.Any(), "testuser", "bad").
			Return(nil, pkgerrors.ErrInvalidCredentials)

		rec := postJSON(t, h.Login, "/auth/login", `{"username":"testuser","password":"bad"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := postJSON(t, h.Login, "/auth/login", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Refresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := servicemocks.NewMockAuthService(ctrl)
	h := NewHandler(svc)

	t.Run("success", func(t *testing.T) {
		expiresAt := time.Now().Add(time.Hour)
		svc.EXPECT().Rotate(gomock.Any(), "refresh-opaque").Return("new-jwt", expiresAt, nil)

		rec := postJSON(t, h.Refresh, "/auth/refresh", `{"refresh_token":"refresh-opaque"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "new-jwt", decodeBody(t, rec)["access_token"])
	})

	t.Run("expired token", func(t *testing.T) {
		svc.EXPECT().Rotate(gomock.Any(), "stale").
			Return("", time.Time{}, pkgerrors.ErrTokenInvalidOrExpired)

		rec := postJSON(t, h.Refresh, "/auth/refresh", `{"refresh_token":"stale"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("inactive account", func(t *testing.T) {
		svc.EXPECT().Rotate(gomock.Any(), "stale").
			Return("", time.Time{}, pkgerrors.ErrInactiveAccount)

		rec := postJSON(t, h.Refresh, "/auth/refresh", `{"refresh_token":"stale"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

// The reset request must answer identically for known and unknown emails.
func TestHandler_RequestPasswordReset(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := servicemocks.NewMockAuthService(ctrl)
	h := NewHandler(svc)

	svc.EXPECT().CreateResetToken(gomock.Any(), "known@example.com").Return("sometoken", nil)
	recKnown := postJSON(t, h.RequestPasswordReset, "/auth/request-password-reset",
		`{"email":"known@example.com"}`)

	svc.EXPECT().CreateResetToken(gomock.Any(), "ghost@example.com").Return("", nil)
	recUnknown := postJSON(t, h.RequestPasswordReset, "/auth/request-password-reset",
		`{"email":"ghost@example.com"}`)

	assert.Equal(t, http.StatusOK, recKnown.Code)
	assert.Equal(t, http.StatusOK, recUnknown.Code)
	assert.Equal(t, recKnown.Body.String(), recUnknown.Body.String())
}

func TestHandler_ResetPassword(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := servicemocks.NewMockAuthService(ctrl)
	h := NewHandler(svc)

	t.Run("success", func(t *testing.T) {
		svc.EXPECT().ConsumeResetToken(gomock.Any(), "validtoken", "newpass").Return(nil)

		rec := postJSON(t, h.ResetPassword, "/auth/reset-password",
			`{"token":"validtoken","password":"newpass"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		svc.EXPECT().ConsumeResetToken(gomock.Any(), "used", "newpass").
			Return(pkgerrors.ErrTokenInvalidOrExpired)

		rec := postJSON(t, h.ResetPassword, "/auth/reset-password",
			`{"token":"used","password":"newpass"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_VerifyEmail(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := servicemocks.NewMockAuthService(ctrl)
	h := NewHandler(svc)

	t.Run("success", func(t *testing.T) {
		svc.EXPECT().VerifyEmail(gomock.Any(), "vtoken").Return(int32(1), nil)

		rec := postJSON(t, h.VerifyEmail, "/auth/verify-email", `{"token":"vtoken"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("used token", func(t *testing.T) {
		svc.EXPECT().VerifyEmail(gomock.Any(), "vtoken").
			Return(int32(0), pkgerrors.ErrTokenInvalidOrExpired)

		rec := postJSON(t, h.VerifyEmail, "/auth/verify-email", `{"token":"vtoken"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Me(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := servicemocks.NewMockAuthService(ctrl)
	h := NewHandler(svc)

	claims := &models.SessionClaims{UserID: 1, Username: "testuser", Roles: []string{"student"}}
	user := &models.User{
		ID:         1,
		Username:   "testuser",
		Email:      "test@example.com",
		IsActive:   true,
		IsVerified: true,
		Roles:      []string{"student"},
	}

	router := mux.NewRouter()
	protected := router.PathPrefix("/auth").Subrouter()
	protected.Use(auth.Middleware(svc))
	h.RegisterProtectedRoutes(protected)

	t.Run("authenticated", func(t *testing.T) {
		svc.EXPECT().ValidateAccessToken("goodtoken").Return(claims, nil)
		svc.EXPECT().ResolveActiveUser(gomock.Any(), claims).Return(user, nil)

		req := httptest.NewRequest("GET", "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer goodtoken")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "testuser", body["username"])
		assert.Equal(t, "test@example.com", body["email"])
	})

	t.Run("deactivated since issue", func(t *testing.T) {
		svc.EXPECT().ValidateAccessToken("goodtoken").Return(claims, nil)
		svc.EXPECT().ResolveActiveUser(gomock.Any(), claims).
			Return(nil, pkgerrors.ErrInactiveAccount)

		req := httptest.NewRequest("GET", "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer goodtoken")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("no token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/auth/me", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandler_Logout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := servicemocks.NewMockAuthService(ctrl)
	h := NewHandler(svc)

	t.Run("success", func(t *testing.T) {
		svc.EXPECT().Revoke(gomock.Any(), "refresh-opaque").Return(true, nil)

		rec := postJSON(t, h.Logout, "/auth/logout", `{"refresh_token":"refresh-opaque"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("already revoked", func(t *testing.T) {
		svc.EXPECT().Revoke(gomock.Any(), "gone").Return(false, nil)

		rec := postJSON(t, h.Logout, "/auth/logout", `{"refresh_token":"gone"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_DeactivateUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := servicemocks.NewMockAuthService(ctrl)
	h := NewHandler(svc)

	router := mux.NewRouter()
	h.RegisterAdminRoutes(router)

	t.Run("success", func(t *testing.T) {
		svc.EXPECT().DeactivateUser(gomock.Any(), int32(5)).Return(nil)

		req := httptest.NewRequest("POST", "/users/5/deactivate", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc.EXPECT().DeactivateUser(gomock.Any(), int32(99)).Return(pkgerrors.ErrUserNotFound)

		req := httptest.NewRequest("POST", "/users/99/deactivate", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
