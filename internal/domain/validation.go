package domain

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ServerIDRegex validates server ids in slug form.
var ServerIDRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// TagRegex validates lowercase-hyphen tag tokens.
var TagRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// SemVerRegex validates semantic version strings.
var SemVerRegex = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

const maxTagLength = 30

// NewValidator creates a configured validator instance
func NewValidator() *validator.Validate {
	v := validator.New()

	// Report field errors under their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("server_id", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		return len(id) <= 50 && ServerIDRegex.MatchString(id)
	})

	_ = v.RegisterValidation("server_tag", func(fl validator.FieldLevel) bool {
		tag := fl.Field().String()
		return len(tag) > 0 && len(tag) <= maxTagLength && TagRegex.MatchString(tag)
	})

	_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
		return SemVerRegex.MatchString(fl.Field().String())
	})

	_ = v.RegisterValidation("https_url", func(fl validator.FieldLevel) bool {
		u := fl.Field().String()
		return strings.HasPrefix(u, "https://") && len(u) > len("https://")
	})

	return v
}

// ValidateServer runs structural validation on a candidate record and
// returns every field error, not just the first.
func ValidateServer(v *validator.Validate, candidate *ServerRecord) []FieldError {
	err := v.Struct(candidate)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Message: err.Error(), Code: "invalid"}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: messageFor(fe),
			Code:    fe.Tag(),
		})
	}
	return out
}

// fieldPath strips the leading struct name from a validator namespace,
// e.g. "ServerRecord.author.name" -> "author.name".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "server_id":
		return "must be a lowercase slug (letters, digits, hyphens)"
	case "server_tag":
		return "tags must be short lowercase-hyphen tokens"
	case "semver":
		return "must be a semantic version (e.g. 1.2.3)"
	case "https_url":
		return "must be an HTTPS URL"
	case "min":
		return "value is too short or list too small (min " + fe.Param() + ")"
	case "max":
		return "value is too long or list too large (max " + fe.Param() + ")"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "invalid value"
	}
}
