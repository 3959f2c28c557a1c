package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/engine"
	"github.com/pot-code/course-progress/internal/infrastructure/validate"
)

// RESTStandardError response error
type RESTStandardError struct {
	Type    string `json:"type,omitempty"`
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewRESTStandardError .
func NewRESTStandardError(code int, detail string) *RESTStandardError {
	return &RESTStandardError{
		Code:   code,
		Title:  http.StatusText(code),
		Detail: detail,
	}
}

func (re RESTStandardError) Error() string {
	return re.Detail
}

// SetTraceID .
func (re RESTStandardError) SetTraceID(traceID string) RESTStandardError {
	re.TraceID = traceID
	return re
}

// RESTValidationError standard validation error
type RESTValidationError struct {
	RESTStandardError
	InvalidParams []*validate.FieldError `json:"invalid_params"`
}

// NewRESTValidationError .
func NewRESTValidationError(code int, detail string, internal []*validate.FieldError) *RESTValidationError {
	return &RESTValidationError{
		RESTStandardError: RESTStandardError{
			Code:   code,
			Title:  http.StatusText(code),
			Detail: detail,
		},
		InvalidParams: internal,
	}
}

func (rve RESTValidationError) Error() string {
	return rve.Detail
}

// SetTraceID .
func (rve RESTValidationError) SetTraceID(traceID string) RESTValidationError {
	rve.RESTStandardError.TraceID = traceID
	return rve
}

// StatusOf http status for an error returned by the engine
func StatusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, domain.ErrCatalogMissing), errors.Is(err, domain.ErrUnknownLesson):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEmptyLearner):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCatalogNotLoaded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteError render err as a standard error body
func WriteError(c echo.Context, err error) error {
	traceID := c.Response().Header().Get(echo.HeaderXRequestID)
	var rve *RESTValidationError
	if errors.As(err, &rve) {
		return c.JSON(rve.Code, rve.SetTraceID(traceID))
	}
	code := StatusOf(err)
	detail := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
	}
	return c.JSON(code, NewRESTStandardError(code, detail).SetTraceID(traceID))
}
