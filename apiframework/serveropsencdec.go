// Package apiframework carries the shared HTTP plumbing for the API surface:
// request decoding, response encoding, and the error contract. Errors are
// rendered in an OpenAI-style envelope so clients can rely on a single shape
// for every failure.
package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError is the structured error returned by every route.
type APIError struct {
	err       error
	message   string
	param     string
	errorType string
	errorCode string
}

func (e *APIError) Error() string {
	return e.message
}

func (e *APIError) Unwrap() error {
	return e.err
}

type errorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    string  `json:"code"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// Encode writes v as the JSON response body with the given status code.
func Encode[T any](w http.ResponseWriter, _ *http.Request, status int, v T) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Decode reads the request body as JSON into T. An empty body yields
// ErrEmptyRequestBody so routes can map it to a 400.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if len(body) == 0 {
		return v, ErrEmptyRequestBody
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrUnprocessableEntity, err)
	}
	return v, nil
}

// Error maps err to an HTTP status for the given operation and writes the
// error envelope. The returned error, if any, is the encoding failure.
func Error(w http.ResponseWriter, r *http.Request, err error, op Operation) error {
	status := mapErrorToStatus(op, err)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = NewAPIError(err, "", "")
	}
	errorType, errorCode := apiErr.errorType, apiErr.errorCode
	if errorType == "" {
		errorType, errorCode = getErrorTypeAndCode(status)
	}

	body := errorBody{
		Message: apiErr.message,
		Type:    errorType,
		Code:    errorCode,
	}
	if apiErr.param != "" {
		body.Param = &apiErr.param
	}
	return Encode(w, r, status, errorEnvelope{Error: body})
}

// GetPathParam reads a path value registered on the route pattern. The
// description documents the parameter for the API docs generator.
func GetPathParam(r *http.Request, name string, description string) string {
	_ = description
	return r.PathValue(name)
}

// GetQueryParam reads a query parameter, falling back to defaultValue when
// absent. The description documents the parameter for the API docs generator.
func GetQueryParam(r *http.Request, name string, defaultValue string, description string) string {
	_ = description
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return defaultValue
}
