package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var requiredSubmissionFields = []string{"name", "email", "subject", "message"}

// ValidateSubmission checks that every required field is present and
// non-blank. The returned error lists all missing fields in a fixed order.
// ID, ReferenceNumber and ReceivedAt are left for the caller to assign.
func ValidateSubmission(raw map[string]any) (Submission, error) {
	values := make(map[string]string, len(requiredSubmissionFields))
	missing := make([]goerrors.FieldError, 0, len(requiredSubmissionFields))
	for _, field := range requiredSubmissionFields {
		value, ok := stringField(raw, field)
		if !ok {
			missing = append(missing, goerrors.FieldError{
				Field:   field,
				Message: field + " is required",
			})
			continue
		}
		values[field] = value
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, field := range missing {
			names = append(names, field.Field)
		}
		return Submission{}, goerrors.NewValidation("Missing required fields", missing...).
			WithCode(http.StatusBadRequest).
			WithTextCode(FormRelayErrorMissingFields).
			WithSeverity(goerrors.SeverityError).
			WithMetadata(map[string]any{"missing_fields": names})
	}

	submission := Submission{
		Name:    values["name"],
		Email:   values["email"],
		Subject: values["subject"],
		Message: values["message"],
	}
	if phone, ok := stringField(raw, "phone"); ok {
		submission.Phone = &phone
	}
	return submission, nil
}

// MissingFields returns the field names reported by a validation error, or
// nil when err is not one.
func MissingFields(err error) []string {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return nil
	}
	if rich.TextCode != FormRelayErrorMissingFields {
		return nil
	}
	fieldErrors := rich.AllValidationErrors()
	out := make([]string, 0, len(fieldErrors))
	for _, field := range fieldErrors {
		out = append(out, field.Field)
	}
	return out
}

func stringField(raw map[string]any, key string) (string, bool) {
	if raw == nil {
		return "", false
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return "", false
	}
	var text string
	switch typed := value.(type) {
	case string:
		text = typed
	case bool, float64, float32, int, int64, int32, uint, uint64:
		text = fmt.Sprint(typed)
	default:
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}
