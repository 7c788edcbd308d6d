package errors

import "errors"

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidToken          = errors.New("invalid or expired access token")
	ErrInactiveAccount       = errors.New("account is inactive")
	ErrForbidden             = errors.New("insufficient permissions")
	ErrTokenInvalidOrExpired = errors.New("token is invalid or expired")
	ErrUserNotFound          = errors.New("user not found")
	ErrUserAlreadyExists     = errors.New("username already exists")
	ErrEmailExists           = errors.New("email already registered")
	ErrNilUser               = errors.New("user is nil")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInternal              = errors.New("internal error")
)
