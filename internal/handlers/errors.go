package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/marketauth/internal/models"
	pkghttp "github.com/BradenHooton/marketauth/pkg/http"
)

// writeServiceError maps a service error onto the JSON error envelope.
// Anything unrecognised is reported as an internal error without detail.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *models.ValidationError
	var lockoutErr *models.LockoutError

	switch {
	case errors.As(err, &validationErr):
		pkghttp.WriteValidationError(w, validationErr.Field, validationErr.Message)
	case errors.Is(err, models.ErrCaptcha):
		pkghttp.WriteError(w, http.StatusBadRequest, "captcha_invalid", "Captcha verification failed")
	case errors.As(err, &lockoutErr):
		pkghttp.WriteLocked(w, "Account is temporarily locked", lockoutErr.Until.UTC().Format(time.RFC3339))
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication required")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists or is bound to another account")
	case errors.Is(err, models.ErrProvider):
		pkghttp.WriteBadGateway(w, "Identity provider request failed")
	case errors.Is(err, models.ErrConfiguration):
		pkghttp.WriteServiceUnavailable(w, "This sign-in method is not configured")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
