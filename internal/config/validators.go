package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/idelchi/vaultseal/internal/device"
)

// newValidator returns a validator with the custom tags registered and field names
// reported by their label.
func newValidator() (*validator.Validate, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.RegisterValidation("exclusive", validateExclusive); err != nil {
		return nil, fmt.Errorf("registering exclusive validation: %w", err)
	}

	if err := validate.RegisterValidation("bip32", validateBIP32); err != nil {
		return nil, fmt.Errorf("registering bip32 validation: %w", err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		const splitSize = 2

		name := strings.SplitN(fld.Tag.Get("label"), ",", splitSize)[0]
		if name == "-" || name == "" {
			return fld.Name
		}

		return name
	})

	return validate, nil
}

func validate(c *Config) error {
	validate, err := newValidator()
	if err != nil {
		return err
	}

	err = validate.Struct(c)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("validating configuration: %w", err)
	}

	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, message(e))
	}

	return fmt.Errorf("%w: %s", ErrUsage, strings.Join(messages, "; "))
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "exclusive":
		return fmt.Sprintf("%s is mutually exclusive with %s", e.Field(), labelOf(e))
	case "bip32":
		return fmt.Sprintf("%s %q is not a derivation path", e.Field(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", e.Field(), e.Param())
	case "required":
		return e.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", e.Field(), e.Tag())
	}
}

// labelOf returns the label of the field named by the exclusive tag parameter.
func labelOf(e validator.FieldError) string {
	field, ok := reflect.TypeOf(Config{}).FieldByName(e.Param())
	if !ok {
		return e.Param()
	}

	if label := field.Tag.Get("label"); label != "" {
		return label
	}

	return field.Name
}

// validateExclusive checks if two fields are mutually exclusive.
// Returns false if both fields have non-empty values.
func validateExclusive(fl validator.FieldLevel) bool {
	otherFieldName := fl.Param()
	field := fl.Field()
	otherField := fl.Parent().FieldByName(otherFieldName)

	if !field.IsValid() || !otherField.IsValid() {
		return true
	}

	if field.Kind() == reflect.String && otherField.Kind() == reflect.String {
		return field.String() == "" || otherField.String() == ""
	}

	return true
}

func validateBIP32(fl validator.FieldLevel) bool {
	_, err := device.ParsePath(fl.Field().String())

	return err == nil
}
