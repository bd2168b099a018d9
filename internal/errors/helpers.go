package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewInvalidStateError reports an operation that is not allowed in the message's current state
func NewInvalidStateError(operation, id, state string) *AppError {
	return New(ErrCodeInvalidState, fmt.Sprintf("cannot %s message in state %s", operation, state)).
		WithContext("operation", operation).
		WithContext("message_id", id).
		WithContext("state", state).
		WithUserMessage(fmt.Sprintf("Message cannot be %s right now", pastTense(operation)))
}

// NewInFlightError reports an operation on a message whose delivery attempt is running
func NewInFlightError(operation, id string) *AppError {
	return New(ErrCodeMessageInFlight, fmt.Sprintf("cannot %s message while it is being sent", operation)).
		WithContext("operation", operation).
		WithContext("message_id", id).
		WithUserMessage("Message is being sent, try again shortly")
}

// NewStoreError wraps a durable store failure
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreFailure, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Queue storage is unavailable")
}

// NewDeliveryError wraps a send adapter failure. Status codes that indicate
// an overloaded or unreachable endpoint are marked retryable.
func NewDeliveryError(transport string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeDeliveryFailed, fmt.Sprintf("%s delivery failed", transport)).
		WithContext("transport", transport)
	if statusCode > 0 {
		appErr = appErr.WithContext("status_code", statusCode)
	}
	appErr.Retryable = statusCode == 0 || statusCode >= 500 || statusCode == 429 || statusCode == 408
	return appErr
}

func pastTense(operation string) string {
	switch operation {
	case "retry":
		return "retried"
	case "remove":
		return "removed"
	default:
		return operation + "ed"
	}
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidState, ErrCodeMessageInFlight:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeDeliveryFailed:
		return http.StatusBadGateway
	case ErrCodeStoreFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error) HTTPErrorResponse {
	var response HTTPErrorResponse

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		public := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "token" && k != "secret" {
				public[k] = v
			}
		}
		if len(public) > 0 {
			response.Error.Context = public
		}
	}
	return response
}
