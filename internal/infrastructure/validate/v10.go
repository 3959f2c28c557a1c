package validate

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// identifierPattern ids used as map keys and URL segments
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// PlaygroundV10 Validator implementation using go-playground
type PlaygroundV10 struct {
	core  *validator.Validate
	trans ut.Translator
}

var _ Validator = &PlaygroundV10{}

// NewValidator create a new Validator
func NewValidator() *PlaygroundV10 {
	en := en.New()
	uni := ut.New(en, en)
	trans, _ := uni.GetTranslator("en")

	validate := validator.New()
	en_translations.RegisterDefaultTranslations(validate, trans)
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if name == "-" || name == "" {
			name = fld.Tag.Get("yaml")
			if name == "-" || name == "" {
				return ""
			}
		}
		return name
	})
	validate.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	validate.RegisterTranslation("ident", trans, func(ut ut.Translator) error {
		return ut.Add("ident", "{0} must start with a letter or digit and contain only letters, digits, '_', '.', ':' or '-'", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("ident", fe.Field())
		return t
	})
	return &PlaygroundV10{
		core:  validate,
		trans: trans,
	}
}

// Struct validate struct
func (v PlaygroundV10) Struct(s interface{}) []*FieldError {
	var result []*FieldError
	validate := v.core
	if err := validate.Struct(s); err != nil {
		ves, ok := err.(validator.ValidationErrors)
		if !ok {
			return []*FieldError{NewFieldError("", err.Error())}
		}
		for _, item := range ves {
			result = append(result, NewFieldError(item.Namespace(), item.Translate(v.trans)))
		}
		return result
	}
	return nil
}

// Empty check if value is empty
func (v PlaygroundV10) Empty(varName string, s interface{}) []*FieldError {
	return v.Var(varName, s, "required")
}

// Var validate a single variable against tag
func (v PlaygroundV10) Var(varName string, s interface{}, tag string) []*FieldError {
	validate := v.core
	var result []*FieldError
	if err := validate.Var(s, tag); err != nil {
		ves, ok := err.(validator.ValidationErrors)
		if !ok {
			return []*FieldError{NewFieldError(varName, err.Error())}
		}
		for _, item := range ves {
			reason := item.Translate(v.trans)
			if item.Tag() == "required" {
				reason = fmt.Sprintf("%s is required", varName)
			}
			result = append(result, NewFieldError(varName, reason))
		}
		return result
	}
	return nil
}
