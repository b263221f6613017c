package transport

import (
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-formrelay/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTimeoutError(source error, timeout time.Duration, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["timeout_ms"] = timeout.Milliseconds()
	return goerrors.Wrap(source, goerrors.CategoryExternal, "transport: request timed out").
		WithCode(http.StatusGatewayTimeout).
		WithTextCode(core.FormRelayErrorChannelTimeout).
		WithMetadata(metadata)
}

// IsTimeout reports whether err was produced by a request that ran out of
// time.
func IsTimeout(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return false
	}
	return rich.TextCode == core.FormRelayErrorChannelTimeout
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.FormRelayErrorBadInput
	case goerrors.CategoryExternal:
		return core.FormRelayErrorChannelTransport
	default:
		return core.FormRelayErrorInternal
	}
}
