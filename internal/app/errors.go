package app

import (
	"errors"
	"fmt"
	"net/http"

	"hash/api/internal/editor"
	"hash/api/internal/entity"
	"hash/api/internal/link"
	"hash/api/internal/save"
	"hash/api/internal/store"
	"hash/api/internal/systemtypes"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var pathErr *link.PathError
	switch {
	case errors.As(err, &pathErr):
		return http.StatusBadRequest, "INVALID_PATH", pathErr.Error(), map[string]any{"offset": pathErr.Offset, "reason": pathErr.Reason}
	case errors.Is(err, link.ErrInvalidPath):
		return http.StatusBadRequest, "INVALID_PATH", err.Error(), nil
	case errors.Is(err, link.ErrInvalidDestination):
		return http.StatusBadRequest, "INVALID_DESTINATION", err.Error(), nil
	case errors.Is(err, save.ErrInvalidAction):
		return http.StatusBadRequest, "INVALID_ACTION", err.Error(), nil
	case errors.Is(err, editor.ErrInvalidDocument):
		return http.StatusBadRequest, "INVALID_DOCUMENT", err.Error(), nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, systemtypes.ErrNotInitialized):
		return http.StatusServiceUnavailable, "NOT_READY", "System types are not loaded yet", nil
	case errors.Is(err, save.ErrSaveFailed):
		return http.StatusBadGateway, "SAVE_FAILED", "Page could not be saved", nil
	case errors.Is(err, save.ErrInvariantViolation):
		return http.StatusInternalServerError, "INVARIANT_VIOLATION", "Page is inconsistent with its document", nil
	case errors.Is(err, link.ErrIntegrity):
		return http.StatusInternalServerError, "LINK_INTEGRITY", "Link endpoint is missing", nil
	case errors.Is(err, entity.ErrMissing):
		return http.StatusInternalServerError, "STALE_SNAPSHOT", "Entity snapshot is incomplete", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
