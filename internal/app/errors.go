package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"fleetdesk/api/internal/auth"
	"fleetdesk/api/internal/drafts"
	"fleetdesk/api/internal/export"
	"fleetdesk/api/internal/photos"
	"fleetdesk/api/internal/sheet"
	"fleetdesk/api/internal/store"
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

func validationError(field, message string) error {
	return sheet.FieldErrors{field: message}
}

// mapError translates service errors into the HTTP error envelope.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var fieldErrs sheet.FieldErrors
	if errors.As(err, &fieldErrs) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string(fieldErrs)
	}
	if errors.Is(err, sheet.ErrAnnotationTooLong) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{
			"annotation": fmt.Sprintf("annotation must be at most %d characters", sheet.MaxAnnotationLength),
		}
	}
	if errors.Is(err, photos.ErrUnsupportedType) || errors.Is(err, photos.ErrEmpty) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{"photo": err.Error()}
	}
	if errors.Is(err, photos.ErrTooLarge) {
		return http.StatusRequestEntityTooLarge, "PHOTO_TOO_LARGE", "Photo exceeds the upload limit", map[string]any{"maxBytes": photos.MaxUploadBytes}
	}

	if errors.Is(err, sheet.ErrIntegrity) {
		return http.StatusInternalServerError, "INTEGRITY_ERROR", "Checklist session was corrupted and has been discarded", nil
	}

	var refErr *store.ReferenceError
	if errors.As(err, &refErr) {
		return http.StatusNotFound, "NOT_FOUND", refErr.Error(), map[string]any{"entity": refErr.Entity, "id": refErr.ID}
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, drafts.ErrNotFound) || errors.Is(err, sheet.ErrUnknownItem) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}

	if errors.Is(err, store.ErrConflict) || errors.Is(err, sheet.ErrInvalidTransition) || errors.Is(err, drafts.ErrBusy) {
		return http.StatusConflict, "CONFLICT", conflictMessage(err), nil
	}

	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, drafts.ErrUnavailable) ||
		errors.Is(err, photos.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "RESOURCE_UNAVAILABLE", "A backing service is unavailable, try again", map[string]any{"retryable": true}
	}

	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	}

	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, sheet.ErrInvalidTransition):
		return "Checklist item is not in a state that allows this action"
	case errors.Is(err, drafts.ErrBusy):
		return "Draft was modified concurrently, try again"
	default:
		return "Record already exists"
	}
}
