package utils

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var ErrInvalidInput = errors.New("invalid input")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
			return ValidateCurrency(fl.Field().String()) == nil
		})
	})
	return validate
}

// ValidateStruct runs `validate` tags and folds failures into one ErrInvalidInput.
func ValidateStruct(input any) error {
	err := getValidator().Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

// NormalizePhone parses phone for defaultRegion and returns it in E.164 form.
func NormalizePhone(phone string, defaultRegion string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	num, err := libphonenumber.Parse(phone, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("%w: phone %q: %v", ErrInvalidInput, phone, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("%w: phone %q is not a valid number", ErrInvalidInput, phone)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
