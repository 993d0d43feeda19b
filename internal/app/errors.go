package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"casedesk/api/internal/authz"
	"casedesk/api/internal/llm"
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

// errDenied is the uniform response for both missing resources and
// forbidden access; callers can never tell the two apart.
func errDenied() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found or access denied", nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func errProvider(message string) *DomainError {
	return domainError(http.StatusBadGateway, "PROVIDER_ERROR", message, nil)
}

// wrapAccessError folds authz and storage errors into the taxonomy.
// Denials and missing rows collapse into the uniform not-found; a
// cross-org membership target keeps its specific message.
func wrapAccessError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, authz.ErrTargetNotInOrganization) {
		return errValidation(err.Error())
	}
	if errors.Is(err, authz.ErrDenied) || errors.Is(err, sql.ErrNoRows) {
		return errDenied()
	}
	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) {
		return errProvider(providerErr.Message)
	}
	return err
}
