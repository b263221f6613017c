package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	FormRelayErrorMissingFields    = "SUBMISSION_MISSING_FIELDS"
	FormRelayErrorBadInput         = "FORMRELAY_BAD_INPUT"
	FormRelayErrorNotFound         = "FORMRELAY_NOT_FOUND"
	FormRelayErrorChannelTimeout   = "DISPATCH_CHANNEL_TIMEOUT"
	FormRelayErrorChannelTransport = "DISPATCH_CHANNEL_TRANSPORT"
	FormRelayErrorQueueFull        = "DISPATCH_QUEUE_FULL"
	FormRelayErrorInternal         = "FORMRELAY_INTERNAL_ERROR"
)

// MapError normalizes any error into an envelope with an HTTP code and a
// text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newFormRelayError(err.Error(), goerrors.CategoryExternal, FormRelayErrorChannelTimeout)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newFormRelayError(err.Error(), goerrors.CategoryNotFound, FormRelayErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newFormRelayError(err.Error(), goerrors.CategoryBadInput, FormRelayErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func NewInternalError(err error, message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "An unexpected error occurred"
	}
	var wrapped *goerrors.Error
	if err != nil {
		wrapped = goerrors.Wrap(err, goerrors.CategoryInternal, message)
	} else {
		wrapped = goerrors.New(message, goerrors.CategoryInternal)
	}
	return ensureErrorEnvelope(wrapped.WithTextCode(FormRelayErrorInternal))
}

func newFormRelayError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryValidation:
		return FormRelayErrorMissingFields
	case goerrors.CategoryBadInput:
		return FormRelayErrorBadInput
	case goerrors.CategoryNotFound:
		return FormRelayErrorNotFound
	case goerrors.CategoryExternal:
		return FormRelayErrorChannelTransport
	default:
		return FormRelayErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
