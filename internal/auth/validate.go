// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/asaskevich/govalidator"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/samber/oops"
)

// Field limits.
const (
	MaxUsernameLength = 50
	MaxEmailLength    = 100
	MinPasswordLength = 8
	MaxPasswordLength = 50
	MaxTokenLength    = 256
	MaxImgLength      = 2048
)

var alphanumeric = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// emailFormat checks the address syntax only. is.Email also resolves the
// domain, which a signup form must not depend on.
var emailFormat = validation.NewStringRule(govalidator.IsEmail, "must be a valid email address")

var (
	usernameRules = []validation.Rule{
		validation.Required,
		validation.Length(1, MaxUsernameLength),
		validation.Match(alphanumeric).Error("must contain only letters and digits"),
		validation.By(notNumeric),
	}
	emailRules = []validation.Rule{
		validation.Required,
		validation.Length(1, MaxEmailLength),
		emailFormat,
	}
	passwordRules = []validation.Rule{
		validation.Required,
		validation.Length(MinPasswordLength, MaxPasswordLength),
		validation.By(noWhitespace),
	}
)

func notNumeric(value any) error {
	s, _ := value.(string)
	if s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return errors.New("must not be purely numeric")
	}
	return nil
}

func noWhitespace(value any) error {
	s, _ := value.(string)
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return errors.New("must not contain whitespace")
	}
	return nil
}

func equals(other string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != other {
			return errors.New("values must match")
		}
		return nil
	}
}

func validateSignup(in SignupInput) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, usernameRules...),
		validation.Field(&in.Email, emailRules...),
		validation.Field(&in.Password, passwordRules...),
		validation.Field(&in.ConfirmPassword, validation.Required, validation.By(equals(in.Password))),
		validation.Field(&in.IP, validation.Required, is.IP),
	)
}

func validateNewPassword(password, confirm string) error {
	return validation.Errors{
		"password":         validation.Validate(password, passwordRules...),
		"confirm_password": validation.Validate(confirm, validation.Required, validation.By(equals(password))),
	}.Filter()
}

func validateIP(ip string) error {
	return validation.Errors{"ip": validation.Validate(ip, validation.Required, is.IP)}.Filter()
}

func validateEmail(email string) error {
	return validation.Errors{"email": validation.Validate(email, emailRules...)}.Filter()
}

func validateToken(tok string) error {
	return validation.Errors{
		"token": validation.Validate(tok,
			validation.Required,
			validation.Length(1, MaxTokenLength),
			validation.Match(alphanumeric),
		),
	}.Filter()
}

func validateEditProfile(in EditProfileInput) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, usernameRules...),
		validation.Field(&in.Img, validation.Length(0, MaxImgLength), is.URL),
	)
}

// invalid wraps a validation failure as ErrValidation, keeping the per-field
// messages in the error context.
func invalid(operation string, err error) error {
	b := oops.Code("AUTH_VALIDATION_FAILED").With("operation", operation)
	var fields validation.Errors
	if errors.As(err, &fields) {
		for name, fieldErr := range fields {
			b = b.With("field."+name, fieldErr.Error())
		}
	}
	return b.Wrapf(ErrValidation, "%s", err.Error())
}
