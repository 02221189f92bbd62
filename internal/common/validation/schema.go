package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"emergency-admission/internal/models"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Summary joins the errors into one line for error details.
func (r *ValidationResult) Summary() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// SubmissionSchema describes an incoming incident submission.
const SubmissionSchema = `{
  "type": "object",
  "properties": {
    "id":               {"type": "string", "maxLength": 128},
    "description":      {"type": "string", "maxLength": 4000},
    "status":           {"type": "string", "maxLength": 64},
    "category":         {"type": "string", "maxLength": 64},
    "ageBracket":       {"type": "string", "enum": ["", "infant", "child", "adult", "senior"]},
    "transportMode":    {"type": "string", "enum": ["", "ambulance", "private", "walk-in"]},
    "locality":         {"type": "string", "maxLength": 128},
    "forcedFacilityId": {"type": "string", "maxLength": 128},
    "submittedBy":      {"type": "string", "maxLength": 128},
    "arrivedAt":        {"type": "string"},
    "location": {
      "type": "object",
      "required": ["latitude", "longitude"],
      "properties": {
        "latitude":  {"type": "number", "minimum": -90,  "maximum": 90},
        "longitude": {"type": "number", "minimum": -180, "maximum": 180}
      }
    }
  }
}`

var submissionSchema = gojsonschema.NewStringLoader(SubmissionSchema)

// Validate checks any JSON-marshalable document against a schema string.
func Validate(document interface{}, schema gojsonschema.JSONLoader) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    strings.ToUpper(e.Type()),
		})
	}
	sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].Field < out.Errors[j].Field })
	return out, nil
}

// ValidateSubmission applies the submission schema plus the rule that a
// submission must carry at least one clinical field.
func ValidateSubmission(sub models.Submission) (*ValidationResult, error) {
	res, err := Validate(sub, submissionSchema)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(sub.Description) == "" && strings.TrimSpace(sub.Category) == "" && strings.TrimSpace(sub.Status) == "" {
		res.Valid = false
		res.Errors = append(res.Errors, ValidationError{
			Field:   "(root)",
			Message: "one of description, category or status is required",
			Code:    "REQUIRED",
		})
	}
	return res, nil
}
