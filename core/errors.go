package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	WebhookErrorUnauthorized     = "WEBHOOK_UNAUTHORIZED"
	WebhookErrorBadInput         = "WEBHOOK_BAD_INPUT"
	WebhookErrorValidationFailed = "WEBHOOK_VALIDATION_FAILED"
	WebhookErrorNotFound         = "WEBHOOK_NOT_FOUND"
	WebhookErrorDuplicate        = "WEBHOOK_DUPLICATE"
	WebhookErrorDispatchFailed   = "WEBHOOK_DISPATCH_FAILED"
	WebhookErrorInternal         = "WEBHOOK_INTERNAL_ERROR"
)

// MapWebhookError normalizes any error into a go-errors envelope with the
// category, HTTP code, and text code the transport layer renders.
func MapWebhookError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureWebhookErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "timestamp"), strings.Contains(msg, "unauthorized"):
		return NewWebhookError(err.Error(), goerrors.CategoryAuth, WebhookErrorUnauthorized)
	case strings.Contains(msg, "unknown webhook type"), strings.Contains(msg, "not registered"):
		return NewWebhookError(err.Error(), goerrors.CategoryBadInput, WebhookErrorBadInput)
	case strings.Contains(msg, "dispatch") && strings.Contains(msg, "exhausted"):
		return NewWebhookError(err.Error(), goerrors.CategoryOperation, WebhookErrorDispatchFailed)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return NewWebhookError(err.Error(), goerrors.CategoryBadInput, WebhookErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureWebhookErrorEnvelope(mapped)
}

func NewWebhookError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureWebhookErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureWebhookErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = webhookHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultWebhookTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultWebhookTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryValidation:
		return WebhookErrorValidationFailed
	case goerrors.CategoryBadInput:
		return WebhookErrorBadInput
	case goerrors.CategoryNotFound:
		return WebhookErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return WebhookErrorUnauthorized
	case goerrors.CategoryConflict:
		return WebhookErrorDuplicate
	case goerrors.CategoryOperation:
		return WebhookErrorDispatchFailed
	default:
		return WebhookErrorInternal
	}
}

func webhookHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
