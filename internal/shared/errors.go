package shared

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

var ErrInvalidDataURL = errors.New("image must be base64 or a base64 data URL")

// APIError is the JSON body of every non-2xx answer from either binary.
type APIError struct {
	Code    string `json:"code" example:"invalid_request"`
	Message string `json:"message" example:"Invalid request body"`
	Details any    `json:"details,omitempty"`
}

// RetryDetails tells a throttled caller when to come back.
type RetryDetails struct {
	RetryAfterSeconds int `json:"retryAfterSeconds"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}

func Conflict(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusConflict)
}

func TooLarge(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusRequestEntityTooLarge)
}

// TooManyRequests sets Retry-After on the response and mirrors it in the body. The wait
// is rounded up to whole seconds, never below one.
func TooManyRequests(c echo.Context, code, message string, wait time.Duration) *echo.HTTPError {
	secs := RetrySeconds(wait)
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	return NewAPIError(code, message).
		WithDetails(RetryDetails{RetryAfterSeconds: secs}).
		ToHTTP(http.StatusTooManyRequests)
}

func ServiceUnavailable(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusServiceUnavailable)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}

func RetrySeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
