package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "keyforge/internal/errors"
	"keyforge/internal/identity"
)

// DefaultMaxBodySize bounds request bodies read by DecodeJSON
const DefaultMaxBodySize = 64 * 1024

// Validator decodes and validates request bodies using struct tags
type Validator struct {
	validator   *validator.Validate
	maxBodySize int64
}

// NewValidator creates a validator with the keyforge custom tags registered
func NewValidator() *Validator {
	v := validator.New()

	if err := registerCustomValidations(v); err != nil {
		panic(fmt.Sprintf("middleware: %v", err))
	}

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validator:   v,
		maxBodySize: DefaultMaxBodySize,
	}
}

// registerCustomValidations adds keyforge's own validate tags to v
func registerCustomValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("hwid", isHWID); err != nil {
		return fmt.Errorf("register hwid validation: %w", err)
	}
	return nil
}

// DecodeJSON reads r's body into dst. An empty body leaves dst untouched so
// optional-body routes see their zero value.
func (v *Validator) DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}

	body := http.MaxBytesReader(w, r.Body, v.maxBodySize)
	if err := render.DecodeJSON(body, dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.NewWithDetails(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				"Request body exceeds maximum allowed size", map[string]interface{}{"max_size": v.maxBodySize})
		}
		return apperrors.InvalidRequestWithError(err)
	}
	return nil
}

// ValidateStruct validates a struct and returns the rejected fields as a
// single 400 error
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.InvalidRequestWithError(err)
	}

	fields := make([]apperrors.FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, apperrors.FieldError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apperrors.NewFieldErrors(fields)
}

// Decode combines DecodeJSON and ValidateStruct
func (v *Validator) Decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := v.DecodeJSON(w, r, dst); err != nil {
		return err
	}
	return v.ValidateStruct(dst)
}

// formatValidationError formats validation error messages
func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "hwid":
		return fmt.Sprintf("%s must be at least 5 hex digits or dashes", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// Custom validators

func isHWID(fl validator.FieldLevel) bool {
	return identity.ValidHWID(fl.Field().String())
}
