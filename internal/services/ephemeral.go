package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	stderrors "errors"

	"github.com/openlms/auth-service/internal/infrastructure/redis"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Reset and verification tokens share one shape: an opaque key mapping to a
// subject, expiring on its own in the store, consumed at most once. They
// differ only in prefix, TTL and what happens after consumption.

func (s *authService) issueEphemeralToken(ctx context.Context, prefix string, userID int32, ttl time.Duration) (string, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := s.tokenStore.Set(ctx, prefix+token, strconv.FormatInt(int64(userID), 10), ttl); err != nil {
		slog.Error("failed to store ephemeral token", "user_id", userID, "error", err)
		return "", err
	}
	return token, nil
}

func (s *authService) lookupEphemeralToken(ctx context.Context, prefix, tokenString string) (int32, error) {
	val, err := s.tokenStore.Get(ctx, prefix+tokenString)
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

// CreateResetToken issues a 24h password-reset token when the email belongs
// to a known account and returns "" otherwise. Handlers must answer the same
// way in both cases; issuing a second token does not invalidate the first.
func (s *authService) CreateResetToken(ctx context.Context, email string) (string, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "CreateResetToken")
	defer span.End()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil || user == nil {
		// Same work as the success path minus the store write, so the
		// caller cannot time-probe for registered emails.
		if _, genErr := newOpaqueToken(); genErr != nil {
			return "", genErr
		}
		if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			span.RecordError(err)
			return "", err
		}
		slog.Info("reset requested for unknown email")
		return "", nil
	}

	token, err := s.issueEphemeralToken(ctx, resetTokenKeyPrefix, user.ID, s.cfg.ResetTokenTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issue failed")
		return "", err
	}

	s.publishEvent(user.ID, map[string]interface{}{
		"event_type":  "password_reset_requested",
		"user_id":     user.ID,
		"email":       user.Email,
		"reset_token": token,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("reset token issued", "user_id", user.ID)
	return token, nil
}

// ConsumeResetToken is exactly-once: it rewrites the password hash, deletes
// the token, then revokes every refresh token the subject holds so stolen
// sessions die with the old password.
func (s *authService) ConsumeResetToken(ctx context.Context, tokenString, newPassword string) error {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "ConsumeResetToken")
	defer span.End()

	if newPassword == "" {
		return pkgerrors.ErrInvalidInput
	}

	userID, err := s.lookupEphemeralToken(ctx, resetTokenKeyPrefix, tokenString)
	if err != nil {
		span.SetStatus(codes.Error, "invalid reset token")
		return err
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		span.RecordError(err)
		return wrapInternal(err, "failed to hash password")
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password update failed")
		slog.Error("failed to update password", "user_id", userID, "error", err)
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			return pkgerrors.ErrTokenInvalidOrExpired
		}
		return err
	}

	if _, err := s.tokenStore.Del(ctx, resetTokenKeyPrefix+tokenString); err != nil {
		span.RecordError(err)
		slog.Error("failed to delete consumed reset token", "user_id", userID, "error", err)
		return err
	}

	if _, err := s.RevokeAll(ctx, userID); err != nil {
		span.RecordError(err)
		slog.Error("failed to revoke refresh tokens after reset", "user_id", userID, "error", err)
		return err
	}

	s.publishEvent(userID, map[string]interface{}{
		"event_type": "password_changed",
		"user_id":    userID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})

	recordOp("reset_password", nil)
	slog.Info("password reset completed", "user_id", userID)
	return nil
}

// CreateVerificationToken issues a 3-day email-verification token. Called at
// registration and on explicit resend.
func (s *authService) CreateVerificationToken(ctx context.Context, userID int32) (string, error) {
	return s.issueEphemeralToken(ctx, verificationTokenKeyPrefix, userID, s.cfg.VerificationTokenTTL)
}

// ConsumeVerificationToken deletes the token on success whether or not the
// caller acts on the result; setting the verified flag is the caller's job.
func (s *authService) ConsumeVerificationToken(ctx context.Context, tokenString string) (int32, error) {
	userID, err := s.lookupEphemeralToken(ctx, verificationTokenKeyPrefix, tokenString)
	if err != nil {
		return 0, err
	}
	if _, err := s.tokenStore.Del(ctx, verificationTokenKeyPrefix+tokenString); err != nil {
		slog.Error("failed to delete consumed verification token", "user_id", userID, "error", err)
		return 0, err
	}
	return userID, nil
}

// ResendVerification issues a fresh verification token for the account
// behind email, if one exists and is still unverified. Returns "" otherwise;
// handlers answer identically either way.
func (s *authService) ResendVerification(ctx context.Context, email string) (string, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "ResendVerification")
	defer span.End()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			slog.Info("verification resend requested for unknown email")
			return "", nil
		}
		span.RecordError(err)
		return "", err
	}
	if user.IsVerified {
		slog.Info("verification resend for already verified account", "user_id", user.ID)
		return "", nil
	}

	token, err := s.CreateVerificationToken(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	s.publishEvent(user.ID, map[string]interface{}{
		"event_type":         "verification_resent",
		"user_id":            user.ID,
		"email":              user.Email,
		"verification_token": token,
		"created_at":         time.Now().UTC().Format(time.RFC3339),
	})

	return token, nil
}

// VerifyEmail consumes a verification token and flips the verified flag.
func (s *authService) VerifyEmail(ctx context.Context, tokenString string) (int32, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "VerifyEmail")
	defer span.End()

	userID, err := s.ConsumeVerificationToken(ctx, tokenString)
	if err != nil {
		span.SetStatus(codes.Error, "invalid verification token")
		return 0, err
	}

	if err := s.userRepo.SetVerified(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verified flag update failed")
		slog.Error("failed to mark user verified", "user_id", userID, "error", err)
		return 0, err
	}

	s.publishEvent(userID, map[string]interface{}{
		"event_type": "email_verified",
		"user_id":    userID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})

	recordOp("verify_email", nil)
	slog.Info("email verified", "user_id", userID)
	return userID, nil
}
