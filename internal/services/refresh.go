package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	stderrors "errors"

	"github.com/openlms/auth-service/internal/infrastructure/redis"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// newOpaqueToken returns 256 bits from the CSPRNG, hex encoded. The string
// carries no claims; it is a capability whose meaning lives in the store.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IssueRefreshToken stores an opaque token mapping to the subject with the
// refresh TTL. One record per login session.
func (s *authService) IssueRefreshToken(ctx context.Context, userID int32) (string, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}

	key := refreshTokenKeyPrefix + token
	if err := s.tokenStore.Set(ctx, key, strconv.FormatInt(int64(userID), 10), s.cfg.RefreshTokenTTL); err != nil {
		slog.Error("failed to store refresh token", "user_id", userID, "error", err)
		return "", err
	}

	return token, nil
}

// ValidateRefreshToken is a pure store lookup with no side effects.
// A missing or expired record is ErrTokenInvalidOrExpired; a store outage
// propagates as-is.
func (s *authService) ValidateRefreshToken(ctx context.Context, tokenString string) (int32, error) {
	val, err := s.tokenStore.Get(ctx, refreshTokenKeyPrefix+tokenString)
	if stderrors.Is(err, redis.ErrKeyNotFound) {
		return 0, pkgerrors.ErrTokenInvalidOrExpired
	}
	if err != nil {
		return 0, err
	}

	userID, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return 0, pkgerrors.ErrTokenInvalidOrExpired
	}
	return int32(userID), nil
}

// Rotate exchanges a valid refresh token for a fresh access token. The
// refresh token itself is reused, not reissued; it stays valid until its
// TTL or an explicit revocation. If the subject has vanished or gone
// inactive the stale record is deleted on the spot.
func (s *authService) Rotate(ctx context.Context, tokenString string) (string, time.Time, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Rotate")
	defer span.End()

	userID, err := s.ValidateRefreshToken(ctx, tokenString)
	if err != nil {
		span.SetStatus(codes.Error, "invalid refresh token")
		recordOp("rotate", err)
		return "", time.Time{}, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.SetStatus(codes.Error, "subject not found")
		slog.Warn("refresh token for missing user, revoking", "user_id", userID)
		s.deleteRefreshRecord(ctx, tokenString, userID)
		return "", time.Time{}, pkgerrors.ErrTokenInvalidOrExpired
	}
	if err != nil {
		// Directory outage, not a missing subject. The record stays; the
		// client retries once the directory is back.
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		slog.Error("failed to resolve refresh token subject", "user_id", userID, "error", err)
		return "", time.Time{}, err
	}
	if !user.IsActive {
		span.SetStatus(codes.Error, "inactive account")
		slog.Warn("refresh token for inactive user, revoking", "user_id", userID)
		s.deleteRefreshRecord(ctx, tokenString, userID)
		return "", time.Time{}, pkgerrors.ErrInactiveAccount
	}

	accessToken, expiresAt, err := s.IssueAccessToken(user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issue failed")
		return "", time.Time{}, err
	}

	recordOp("rotate", nil)
	slog.Info("access token rotated", "user_id", userID)
	return accessToken, expiresAt, nil
}

// deleteRefreshRecord is the best-effort cleanup for stale records found
// during rotation. Failures are logged, not returned; the record expires on
// its own TTL anyway.
func (s *authService) deleteRefreshRecord(ctx context.Context, tokenString string, userID int32) {
	if _, err := s.tokenStore.Del(ctx, refreshTokenKeyPrefix+tokenString); err != nil {
		slog.Error("failed to delete stale refresh token", "user_id", userID, "error", err)
	}
}

// Revoke deletes a single refresh record. True iff a record actually went
// away; once deleted the token never validates again.
func (s *authService) Revoke(ctx context.Context, tokenString string) (bool, error) {
	deleted, err := s.tokenStore.Del(ctx, refreshTokenKeyPrefix+tokenString)
	if err != nil {
		slog.Error("failed to revoke refresh token", "error", err)
		return false, err
	}
	if deleted {
		slog.Info("refresh token revoked")
	}
	return deleted, nil
}

// RevokeAll deletes every refresh record belonging to the subject. It scans
// the whole refresh keyspace, so cost grows with the total number of active
// refresh tokens. A token issued concurrently may or may not be caught by
// the scan; callers get best-effort-immediate, not linearizable, cutover.
func (s *authService) RevokeAll(ctx context.Context, userID int32) (int, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "RevokeAll")
	defer span.End()

	keys, err := s.tokenStore.ScanKeys(ctx, refreshTokenKeyPrefix+"*")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		slog.Error("failed to scan refresh tokens", "user_id", userID, "error", err)
		return 0, err
	}

	subject := strconv.FormatInt(int64(userID), 10)
	revoked := 0
	for _, key := range keys {
		val, err := s.tokenStore.Get(ctx, key)
		if stderrors.Is(err, redis.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return revoked, err
		}
		if val != subject {
			continue
		}
		deleted, err := s.tokenStore.Del(ctx, key)
		if err != nil {
			span.RecordError(err)
			return revoked, err
		}
		if deleted {
			revoked++
		}
	}

	recordOp("revoke_all", nil)
	slog.Info("refresh tokens revoked", "user_id", userID, "count", revoked)
	return revoked, nil
}
