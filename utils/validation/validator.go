package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sahilchouksey/campus-notes/model"
)

var (
	// EmailRegex is a simple email validation regex
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// PasswordMinLength is the minimum password length
	PasswordMinLength = 8
)

// FieldErrors maps a request field (json name) to a human readable message.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records the first message for a field.
func (f FieldErrors) Add(field, message string) {
	if _, exists := f[field]; !exists {
		f[field] = message
	}
}

// Merge copies other into f without overwriting existing messages.
func (f FieldErrors) Merge(other FieldErrors) {
	for k, v := range other {
		f.Add(k, v)
	}
}

// OrNil returns nil when nothing was recorded so callers can return it as error.
func (f FieldErrors) OrNil() error {
	if len(f) == 0 {
		return nil
	}
	return f
}

// Validator wraps the go-playground validator
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()

	// Report fields by their json/form name, not the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	_ = v.RegisterValidation("note_status", func(fl validator.FieldLevel) bool {
		return model.NoteStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("note_visibility", func(fl validator.FieldLevel) bool {
		return model.NoteVisibility(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("source_type", func(fl validator.FieldLevel) bool {
		return model.NoteSourceType(fl.Field().String()).Valid()
	})

	return &Validator{validate: v}
}

// ValidateStruct validates a struct using struct tags. Failures come back as FieldErrors.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	if fields := FormatValidationErrors(err); len(fields) > 0 {
		return fields
	}
	return err
}

// FormatValidationErrors converts validation errors to a user-friendly format
func FormatValidationErrors(err error) FieldErrors {
	out := FieldErrors{}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return out
	}
	for _, e := range validationErrs {
		field := fieldPath(e)
		switch e.Tag() {
		case "required":
			out.Add(field, fmt.Sprintf("%s is required", e.Field()))
		case "email":
			out.Add(field, "Invalid email format")
		case "min":
			out.Add(field, fmt.Sprintf("%s must be at least %s characters", e.Field(), e.Param()))
		case "max":
			out.Add(field, fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param()))
		case "gte":
			out.Add(field, fmt.Sprintf("%s must be greater than or equal to %s", e.Field(), e.Param()))
		case "lte":
			out.Add(field, fmt.Sprintf("%s must be less than or equal to %s", e.Field(), e.Param()))
		case "note_status":
			out.Add(field, "status must be one of draft, published, archived")
		case "note_visibility":
			out.Add(field, "visibility must be one of private, public")
		case "source_type":
			out.Add(field, "source_type must be one of manual, upload")
		case "fqdn", "hostname":
			out.Add(field, fmt.Sprintf("%s must be a valid domain", e.Field()))
		default:
			out.Add(field, fmt.Sprintf("%s is invalid", e.Field()))
		}
	}
	return out
}

// fieldPath drops the root struct name: "NoteInput.tags[2]" -> "tags".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if i := strings.Index(ns, "["); i >= 0 {
		ns = ns[:i]
	}
	return ns
}

// ValidateEmail checks if an email is valid
func ValidateEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	return EmailRegex.MatchString(email)
}

// ValidatePassword checks if a password meets minimum requirements
func ValidatePassword(password string) (bool, []string) {
	errors := []string{}

	if len(password) < PasswordMinLength {
		errors = append(errors, fmt.Sprintf("Password must be at least %d characters", PasswordMinLength))
	}

	hasLetter := strings.IndexFunc(password, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}) >= 0
	if !hasLetter {
		errors = append(errors, "Password must contain at least one letter")
	}

	return len(errors) == 0, errors
}

// SanitizeString removes null bytes and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}
