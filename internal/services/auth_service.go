package service

import (
	"context"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/openlms/auth-service/internal/infrastructure/kafka"
	"github.com/openlms/auth-service/internal/infrastructure/redis"
	"github.com/openlms/auth-service/internal/models"
	"github.com/openlms/auth-service/internal/repository"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	refreshTokenKeyPrefix      = "refresh_token:"
	resetTokenKeyPrefix        = "reset_token:"
	verificationTokenKeyPrefix = "verification_token:"

	defaultRole = "student"
)

// AuthService owns the token lifecycle and session management of the LMS:
// credential checks, signed access tokens, opaque refresh tokens held in the
// token store, single-use reset and verification tokens, and the role gate.
type AuthService interface {
	Register(ctx context.Context, username, email, firstName, lastName, password string) (*models.User, string, error)
	Authenticate(ctx context.Context, identifier, password string) (*models.User, error)

	IssueAccessToken(user *models.User) (string, time.Time, error)
	ValidateAccessToken(tokenString string) (*models.SessionClaims, error)
	ResolveActiveUser(ctx context.Context, claims *models.SessionClaims) (*models.User, error)

	IssueRefreshToken(ctx context.Context, userID int32) (string, error)
	ValidateRefreshToken(ctx context.Context, tokenString string) (int32, error)
	Rotate(ctx context.Context, tokenString string) (string, time.Time, error)
	Revoke(ctx context.Context, tokenString string) (bool, error)
	RevokeAll(ctx context.Context, userID int32) (int, error)

	CreateResetToken(ctx context.Context, email string) (string, error)
	ConsumeResetToken(ctx context.Context, tokenString, newPassword string) error
	CreateVerificationToken(ctx context.Context, userID int32) (string, error)
	ResendVerification(ctx context.Context, email string) (string, error)
	ConsumeVerificationToken(ctx context.Context, tokenString string) (int32, error)
	VerifyEmail(ctx context.Context, tokenString string) (int32, error)

	Authorize(claims *models.SessionClaims, requiredRoles []string) error
	DeactivateUser(ctx context.Context, userID int32) error
}

// Config carries the signing secret and token lifetimes. The secret is
// injected here rather than read from ambient globals so every process
// validating tokens for the same session domain gets the same value and
// tests can supply their own.
type Config struct {
	JWTSecret            string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration
}

type authService struct {
	userRepo   repository.UserRepository
	tokenStore redis.TokenStore
	producer   kafka.EventProducer
	cfg        Config
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokenStore redis.TokenStore,
	producer kafka.EventProducer,
	cfg Config,
) *authService {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 1440 * time.Minute
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = 24 * time.Hour
	}
	if cfg.VerificationTokenTTL == 0 {
		cfg.VerificationTokenTTL = 3 * 24 * time.Hour
	}
	return &authService{
		userRepo:   userRepo,
		tokenStore: tokenStore,
		producer:   producer,
		cfg:        cfg,
	}
}

// Authenticate resolves identifier as a username first, then as an email,
// and checks the password and the active flag. Missing account, bad password
// and inactive account all come back as ErrInvalidCredentials: the caller
// must not learn which of the three failed. Directory errors other than
// not-found propagate unchanged. The missing-account branch burns a bcrypt
// compare against a throwaway hash so it costs the same as a password
// mismatch.
func (s *authService) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Authenticate")
	defer span.End()

	user, err := s.userRepo.GetByUsername(ctx, identifier)
	if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		user, err = s.userRepo.GetByEmail(ctx, identifier)
	}
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		// Directory outage. Propagated as-is: only the three auth-failure
		// causes share the uniform error.
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		slog.Error("failed to look up user", "error", err)
		recordOp("authenticate", err)
		return nil, err
	}
	if err != nil || user == nil {
		verifyPassword(dummyPasswordHash, password)
		return nil, s.authFailure(span, identifier)
	}

	if !verifyPassword(user.PasswordHash, password) {
		return nil, s.authFailure(span, identifier)
	}

	if !user.IsActive {
		return nil, s.authFailure(span, identifier)
	}

	recordOp("authenticate", nil)
	slog.Info("user authenticated", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Register creates an active, unverified user with the default role and
// issues an email-verification token. The token travels to the notification
// service inside the user_registered event; email delivery is its job.
func (s *authService) Register(ctx context.Context, username, email, firstName, lastName, password string) (*models.User, string, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if username == "" || email == "" || password == "" {
		span.SetStatus(codes.Error, "empty username, email or password")
		return nil, "", pkgerrors.ErrInvalidInput
	}

	if existing, err := s.userRepo.GetByUsername(ctx, username); err == nil && existing != nil {
		span.SetStatus(codes.Error, "username already exists")
		slog.Warn("username already exists", "username", username, "existing_id", existing.ID)
		return nil, "", pkgerrors.ErrUserAlreadyExists
	} else if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user check failed")
		return nil, "", wrapInternal(err, "failed to check username")
	}

	if existing, err := s.userRepo.GetByEmail(ctx, email); err == nil && existing != nil {
		span.SetStatus(codes.Error, "email already registered")
		slog.Warn("email already registered", "email", email, "existing_id", existing.ID)
		return nil, "", pkgerrors.ErrEmailExists
	} else if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "email check failed")
		return nil, "", wrapInternal(err, "failed to check email")
	}

	hash, err := hashPassword(password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password", "username", username, "error", err)
		return nil, "", wrapInternal(err, "failed to hash password")
	}

	user := &models.User{
		UUID:         uuid.NewString(),
		Username:     username,
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   false,
		Roles:        []string{defaultRole},
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		slog.Error("failed to create user", "username", username, "error", err)
		if stderrors.Is(err, pkgerrors.ErrUserAlreadyExists) || stderrors.Is(err, pkgerrors.ErrEmailExists) {
			return nil, "", err
		}
		return nil, "", wrapInternal(err, "failed to create user")
	}

	if err := s.userRepo.AssignRole(ctx, user.ID, defaultRole); err != nil {
		span.RecordError(err)
		slog.Error("failed to assign default role", "user_id", user.ID, "error", err)
	}

	verificationToken, err := s.CreateVerificationToken(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification token issue failed")
		return nil, "", err
	}

	s.publishEvent(user.ID, map[string]interface{}{
		"event_type":         "user_registered",
		"user_id":            user.ID,
		"username":           username,
		"email":              email,
		"verification_token": verificationToken,
		"created_at":         time.Now().UTC().Format(time.RFC3339),
	})

	recordOp("register", nil)
	slog.Info("user registered", "user_id", user.ID, "username", username)
	return user, verificationToken, nil
}

// authFailure records the uniform failure: same error, same log line, no
// hint of which check tripped.
func (s *authService) authFailure(span trace.Span, identifier string) error {
	span.SetStatus(codes.Error, "invalid credentials")
	slog.Warn("authentication failed", "identifier", identifier)
	recordOp("authenticate", pkgerrors.ErrInvalidCredentials)
	return pkgerrors.ErrInvalidCredentials
}

// DeactivateUser flips the active flag off and revokes every outstanding
// refresh token for the subject. Outstanding access tokens stay valid until
// they expire; rotation self-heals (Rotate deletes the refresh record once
// the account is inactive).
func (s *authService) DeactivateUser(ctx context.Context, userID int32) error {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "DeactivateUser")
	defer span.End()

	if err := s.userRepo.SetActive(ctx, userID, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deactivation failed")
		slog.Error("failed to deactivate user", "user_id", userID, "error", err)
		return err
	}

	revoked, err := s.RevokeAll(ctx, userID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to revoke tokens after deactivation", "user_id", userID, "error", err)
		return err
	}

	slog.Info("user deactivated", "user_id", userID, "tokens_revoked", revoked)
	return nil
}
