package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/openlms/auth-service/internal/models"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
)

// IssueAccessToken mints a signed HS256 token carrying the user's identity
// and role names. The same secret must be configured in every process that
// validates tokens for this session domain.
func (s *authService) IssueAccessToken(user *models.User) (string, time.Time, error) {
	if user == nil {
		return "", time.Time{}, pkgerrors.ErrNilUser
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.AccessTokenTTL)

	claims := jwt.MapClaims{
		"sub":      strconv.FormatInt(int64(user.ID), 10),
		"username": user.Username,
		"roles":    user.Roles,
		"iat":      now.Unix(),
		"exp":      expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		slog.Error("failed to sign access token", "user_id", user.ID, "error", err)
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

// ValidateAccessToken verifies signature and expiry and decodes the claims.
// Fails closed: any parse, signature or expiry problem is ErrInvalidToken.
// Roles come from the token itself, not a directory lookup, so role changes
// lag by at most the access-token lifetime.
func (s *authService) ValidateAccessToken(tokenString string) (*models.SessionClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, pkgerrors.ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, pkgerrors.ErrInvalidToken
	}

	return claimsFromMap(mapClaims)
}

func claimsFromMap(mc jwt.MapClaims) (*models.SessionClaims, error) {
	sub, ok := mc["sub"].(string)
	if !ok {
		return nil, pkgerrors.ErrInvalidToken
	}
	userID, err := strconv.ParseInt(sub, 10, 32)
	if err != nil {
		return nil, pkgerrors.ErrInvalidToken
	}

	username, ok := mc["username"].(string)
	if !ok {
		return nil, pkgerrors.ErrInvalidToken
	}

	iat, ok := mc["iat"].(float64)
	if !ok {
		return nil, pkgerrors.ErrInvalidToken
	}
	exp, ok := mc["exp"].(float64)
	if !ok {
		return nil, pkgerrors.ErrInvalidToken
	}

	var roles []string
	if raw, ok := mc["roles"].([]interface{}); ok {
		for _, r := range raw {
			name, ok := r.(string)
			if !ok {
				return nil, pkgerrors.ErrInvalidToken
			}
			roles = append(roles, name)
		}
	}

	return &models.SessionClaims{
		UserID:    int32(userID),
		Username:  username,
		Roles:     roles,
		IssuedAt:  time.Unix(int64(iat), 0).UTC(),
		ExpiresAt: time.Unix(int64(exp), 0).UTC(),
	}, nil
}

// ResolveActiveUser maps validated claims back to a directory record.
func (s *authService) ResolveActiveUser(ctx context.Context, claims *models.SessionClaims) (*models.User, error) {
	if claims == nil {
		return nil, pkgerrors.ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, pkgerrors.ErrInvalidToken
	}
	if !user.IsActive {
		return nil, pkgerrors.ErrInactiveAccount
	}
	return user, nil
}
