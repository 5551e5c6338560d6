package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/model"
)

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsTransient reports whether a request may succeed if repeated: server
// errors and transport failures. Client errors and cancellation are final.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code := StatusCode(err); code != 0 {
		return code >= 500
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// UserMessage turns a failed call into a localized message for the user.
func UserMessage(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, model.ErrFileTooLarge):
		return appI18n.T(ctx, "ErrMsgFileTooLarge")
	case errors.Is(err, model.ErrUnsupportedType):
		return appI18n.T(ctx, "ErrMsgUnsupportedType")
	case errors.Is(err, model.ErrEmptyFile):
		return appI18n.T(ctx, "ErrMsgEmptyFile")
	}

	switch StatusCode(err) {
	case http.StatusRequestEntityTooLarge:
		return appI18n.T(ctx, "ErrMsgFileTooLarge")
	case http.StatusUnauthorized:
		return appI18n.T(ctx, "ErrMsgUnauthorized")
	case http.StatusTooManyRequests:
		return appI18n.T(ctx, "ErrMsgRateLimited")
	case http.StatusServiceUnavailable:
		return appI18n.T(ctx, "ErrMsgOverloaded")
	case http.StatusUnprocessableEntity:
		return appI18n.T(ctx, "ErrMsgCountUnavailable")
	case 0:
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return appI18n.T(ctx, "ErrMsgNetwork")
		}
		return appI18n.T(ctx, "ErrMsgAnalysisFailed")
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return appI18n.T(ctx, "ErrMsgAnalysisFailed")
}
