package validation

import "strings"

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// SignUpRequest mirrors the fields needed for signup validation.
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
	Surname  string
	ORCID    *string
}

// ValidateSignUp validates a signup request.
func ValidateSignUp(req SignUpRequest) []FieldError {
	var errs []FieldError

	email := strings.TrimSpace(req.Email)
	if email == "" {
		errs = append(errs, FieldError{Field: "email", Message: "email is required"})
	} else if !validEmail(email) {
		errs = append(errs, FieldError{Field: "email", Message: "email must be a valid address"})
	}

	errs = append(errs, ValidatePassword(req.Password)...)
	errs = required(errs, "name", req.Name, 100)
	errs = required(errs, "surname", req.Surname, 100)

	if req.ORCID != nil && *req.ORCID != "" && !ValidORCID(*req.ORCID) {
		errs = append(errs, FieldError{Field: "orcid", Message: "orcid must look like 0000-0000-0000-0000"})
	}
	return errs
}

// ValidatePassword checks a new password.
func ValidatePassword(password string) []FieldError {
	if len(password) < MinPasswordLength {
		return []FieldError{{Field: "password", Message: "password must be at least 8 characters"}}
	}
	return nil
}

// ValidateLogin checks that both credentials are present.
func ValidateLogin(email, password string) []FieldError {
	var errs []FieldError
	errs = required(errs, "email", email, 0)
	if password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "password is required"})
	}
	return errs
}
