package mesh

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
)

// ErrSDK matches every error produced by this package via errors.Is.
var ErrSDK = errors.New("mesh sdk error")

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("mesh client is closed")

// AuthenticationError reports a rejected credential (HTTP 401/403).
type AuthenticationError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (%d): %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrSDK) hold.
func (e *AuthenticationError) Is(target error) bool { return target == ErrSDK }

// APIError reports any other non-2xx response. StatusCode is 0 when the
// failure was reported without an HTTP status.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("api error: %s", e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrSDK) hold.
func (e *APIError) Is(target error) bool { return target == ErrSDK }

// SDKError reports client-side failures: transport, decoding, input
// validation, closed client.
type SDKError struct {
	Op  string
	Err error
}

func (e *SDKError) Error() string {
	return fmt.Sprintf("mesh %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *SDKError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSDK) hold.
func (e *SDKError) Is(target error) bool { return target == ErrSDK }

func sdkError(op string, err error) error {
	return &SDKError{Op: op, Err: err}
}

// statusError maps a non-2xx status into the error taxonomy.
func statusError(status int, message, code, requestID string) error {
	if message == "" {
		message = http.StatusText(status)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &AuthenticationError{StatusCode: status, Message: message, RequestID: requestID}
	}

	return &APIError{StatusCode: status, Message: message, Code: code, RequestID: requestID}
}

// fromOpenAI maps errors returned by the openai-go client used for chat.
func fromOpenAI(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = err.Error()
		}
		var requestID string
		if apiErr.Response != nil {
			requestID = apiErr.Response.Header.Get("X-Request-ID")
		}
		return statusError(apiErr.StatusCode, msg, apiErr.Code, requestID)
	}

	return sdkError(op, err)
}

// retryable reports whether a status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
