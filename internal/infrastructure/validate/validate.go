package validate

import (
	"fmt"
	"strings"
)

// FieldError field error to be nested by other errors
type FieldError struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

// NewFieldError create new field error
func NewFieldError(domain string, reason string) *FieldError {
	return &FieldError{domain, reason}
}

func (fe *FieldError) String() string {
	return fmt.Sprintf("%s: %s", fe.Domain, fe.Reason)
}

// Validator .
type Validator interface {
	Struct(s interface{}) []*FieldError
	Empty(varName string, s interface{}) []*FieldError
	Var(varName string, s interface{}, tag string) []*FieldError
}

// Join flattens field errors into a single message, returns "" for none
func Join(errs []*FieldError) string {
	if len(errs) == 0 {
		return ""
	}
	msg := make([]string, 0, len(errs))
	for _, e := range errs {
		msg = append(msg, e.String())
	}
	return strings.Join(msg, "; ")
}
