package core

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorConfigInvalid        = "APP_CONFIG_INVALID"
	ErrorBadInput             = "APP_BAD_INPUT"
	ErrorNotFound             = "APP_NOT_FOUND"
	ErrorAuthFailed           = "APP_AUTH_FAILED"
	ErrorAuthStateMismatch    = "APP_AUTH_STATE_MISMATCH"
	ErrorAuthSignature        = "APP_AUTH_SIGNATURE_INVALID"
	ErrorUpstreamFailure      = "APP_UPSTREAM_FAILURE"
	ErrorUpstreamUnauthorized = "APP_UPSTREAM_UNAUTHORIZED"
	ErrorRenderFailed         = "APP_RENDER_FAILED"
	ErrorRateLimited          = "APP_RATE_LIMITED"
	ErrorInternal             = "APP_INTERNAL_ERROR"
)

// ConfigError reports a missing or invalid configuration key. It is never recovered.
func ConfigError(field string, message string) *goerrors.Error {
	return goerrors.NewValidation("core: invalid configuration", goerrors.FieldError{
		Field:   strings.TrimSpace(field),
		Message: strings.TrimSpace(message),
	}).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorConfigInvalid).
		WithSeverity(goerrors.SeverityCritical)
}

func WrapConfigError(err error, message string) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == ErrorConfigInvalid {
		return rich
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, "core: "+strings.TrimSpace(message)).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorConfigInvalid).
		WithSeverity(goerrors.SeverityCritical)
}

func AuthError(message string) *goerrors.Error {
	return newAppError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorAuthFailed)
}

func WrapAuthError(err error, message string) *goerrors.Error {
	return wrapAppError(err, message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorAuthFailed)
}

func StateMismatchError(message string) *goerrors.Error {
	return newAppError(message, goerrors.CategoryAuthz, http.StatusForbidden, ErrorAuthStateMismatch)
}

func SignatureError(message string) *goerrors.Error {
	return newAppError(message, goerrors.CategoryAuthz, http.StatusForbidden, ErrorAuthSignature)
}

func UpstreamError(err error, message string) *goerrors.Error {
	return wrapAppError(err, message, goerrors.CategoryExternal, http.StatusBadGateway, ErrorUpstreamFailure)
}

func UpstreamUnauthorizedError(message string) *goerrors.Error {
	return newAppError(message, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorUpstreamUnauthorized)
}

func RenderError(err error, message string) *goerrors.Error {
	return wrapAppError(err, message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorRenderFailed)
}

func BadInputError(message string) *goerrors.Error {
	return newAppError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput)
}

func RateLimitedError(message string) *goerrors.Error {
	return newAppError(message, goerrors.CategoryRateLimit, http.StatusTooManyRequests, ErrorRateLimited)
}

func NotFoundError(message string) *goerrors.Error {
	return newAppError(message, goerrors.CategoryNotFound, http.StatusNotFound, ErrorNotFound)
}

// IsNotFound reports whether err carries the NotFound category.
func IsNotFound(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == goerrors.CategoryNotFound
}

func newAppError(message string, category goerrors.Category, code int, textCode string) *goerrors.Error {
	return goerrors.New(strings.TrimSpace(message), category).
		WithCode(code).
		WithTextCode(textCode)
}

func wrapAppError(err error, message string, category goerrors.Category, code int, textCode string) *goerrors.Error {
	if err == nil {
		return newAppError(message, category, code, textCode)
	}
	return goerrors.Wrap(err, category, strings.TrimSpace(message)).
		WithCode(code).
		WithTextCode(textCode)
}

// MapError normalizes any error into a go-errors envelope with an HTTP code and text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureErrorEnvelope(rich)
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func HTTPStatus(err error) int {
	mapped := MapError(err)
	if mapped == nil {
		return http.StatusOK
	}
	return mapped.Code
}

// WriteError writes the status and a minimal plain-text body, then aborts the chain.
func WriteError(c *gin.Context, err error) {
	if c == nil || err == nil {
		return
	}
	mapped := MapError(err)
	_ = c.Error(err)
	if c.Writer.Written() {
		c.Abort()
		return
	}
	message := strings.TrimSpace(mapped.Message)
	if mapped.Category == goerrors.CategoryInternal || message == "" {
		message = http.StatusText(mapped.Code)
	}
	c.Header("X-Error-Code", mapped.TextCode)
	c.Data(mapped.Code, "text/plain; charset=utf-8", []byte(message))
	c.Abort()
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = categoryHTTPStatus(err.Category)
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
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorAuthFailed
	case goerrors.CategoryAuthz:
		return ErrorAuthSignature
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorUpstreamFailure
	default:
		return ErrorInternal
	}
}

func categoryHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
