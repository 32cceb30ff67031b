package app

import (
	"errors"
	"fmt"
	"net/http"

	"gavel/api/internal/auth"
	"gavel/api/internal/authpw"
	"gavel/api/internal/decision"
	"gavel/api/internal/docstore"
	"gavel/api/internal/export"
	"gavel/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func badRequest(message string) *DomainError {
	return domainError(http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

// mapError translates service errors into the HTTP status, code, message and
// details written by writeError. Unknown errors become a 500 without leaking
// their text.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var ineligible *decision.IneligibleError
	if errors.As(err, &ineligible) {
		details := map[string]any{"reason": ineligible.Reason}
		switch {
		case errors.Is(err, decision.ErrProposalClosed):
			return http.StatusConflict, "PROPOSAL_CLOSED", err.Error(), details
		case errors.Is(err, decision.ErrAlreadyVoted):
			return http.StatusConflict, "ALREADY_VOTED", err.Error(), details
		default:
			return http.StatusForbidden, "NOT_ELIGIBLE", err.Error(), details
		}
	}

	switch {
	case errors.Is(err, decision.ErrNotEligible):
		return http.StatusForbidden, "NOT_ELIGIBLE", err.Error(), nil
	case errors.Is(err, decision.ErrAlreadyVoted):
		return http.StatusConflict, "ALREADY_VOTED", err.Error(), nil
	case errors.Is(err, decision.ErrProposalClosed):
		return http.StatusConflict, "PROPOSAL_CLOSED", err.Error(), nil
	case errors.Is(err, decision.ErrInvalidChoice):
		return http.StatusUnprocessableEntity, "INVALID_CHOICE", err.Error(), nil
	case errors.Is(err, decision.ErrUnauthorized):
		return http.StatusForbidden, "FORBIDDEN", err.Error(), nil
	case errors.Is(err, decision.ErrNotYetAvailable):
		return http.StatusConflict, "NOT_YET_AVAILABLE", err.Error(), nil
	case errors.Is(err, decision.ErrAlreadyPropagated):
		return http.StatusConflict, "ALREADY_PROPAGATED", err.Error(), nil
	case errors.Is(err, decision.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity, "INVALID_CONFIGURATION", err.Error(), nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, authpw.ErrInvalidPassword):
		return http.StatusUnauthorized, "INVALID_PASSWORD", "Password confirmation failed", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil
	case errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "WEAK_PASSWORD", err.Error(), nil
	case errors.Is(err, authpw.ErrUsernameTaken):
		return http.StatusConflict, "USERNAME_TAKEN", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, docstore.ErrNotConfigured):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
