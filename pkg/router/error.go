package router

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

type Error interface {
	error
	StatusCode() int
	Encode(w io.Writer) error
}

// JsonError is the error half of the response envelope.
type JsonError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

func NewJsonError(status int, code, message string) JsonError {
	return JsonError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func (e JsonError) WithDetails(details any) JsonError {
	e.Details = details
	return e
}

func (e JsonError) StatusCode() int {
	return e.Status
}

func (e JsonError) Error() string {
	return e.Message
}

type errorEnvelope struct {
	Success   bool      `json:"success"`
	Error     JsonError `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(errorEnvelope{Error: e, Timestamp: time.Now().UTC()})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// JSON writes a success envelope with the given status.
func JSON(w http.ResponseWriter, status int, data any, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Message: message})
}

// DecodeJSON decodes the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ErrBadJSON
	}
	return nil
}

var ErrBadJSON = NewJsonError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body")
