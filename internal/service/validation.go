package service

import (
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"secure-auth/internal/password"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkStruct traduce las reglas `validate` del input a FieldError con nombres camelCase.
func checkStruct(v any) *ValidationError {
	verr := &ValidationError{}
	err := validate.Struct(v)
	if err == nil {
		return verr
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add("", err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.add(lowerFirst(fe.Field()), ruleMessage(fe))
	}
	return verr
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "eqfield":
		return "must match " + lowerFirst(fe.Param())
	default:
		return "is invalid"
	}
}

func checkEmail(email string) *ValidationError {
	verr := &ValidationError{}
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		verr.add("email", "must be a valid email address")
	}
	return verr
}

func (e *ValidationError) addPolicy(field string, err error) {
	var perr *password.PolicyError
	if errors.As(err, &perr) {
		for _, v := range perr.Violations {
			e.add(field, v)
		}
		return
	}
	if err != nil {
		e.add(field, err.Error())
	}
}

func (e *ValidationError) has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
