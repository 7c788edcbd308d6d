package service

import (
	"github.com/openlms/auth-service/internal/models"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
)

// Authorize allows iff the subject's role set intersects requiredRoles.
// Any-of semantics: holding one of the required roles is enough. Role names
// are the whole authorization currency; there is no hierarchy.
func (s *authService) Authorize(claims *models.SessionClaims, requiredRoles []string) error {
	if claims == nil {
		return pkgerrors.ErrInvalidToken
	}
	for _, required := range requiredRoles {
		if claims.HasRole(required) {
			return nil
		}
	}
	return pkgerrors.ErrForbidden
}
