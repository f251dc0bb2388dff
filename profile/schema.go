package profile

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// profileSchema is the Draft-7 schema a registration request must
// satisfy before anything is sent to the bridge process. Rejecting bad
// input locally keeps a ten-minute registration flow from failing late.
const profileSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "accountId"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 100},
		"accountId": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
		"bio": {"type": "string", "maxLength": 500},
		"capabilities": {
			"type": "array",
			"items": {"type": "string"}
		},
		"socials": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`

// ValidationError reports why a registration request was rejected
// before reaching the bridge.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("profile validation failed: %s", strings.Join(e.Details, "; "))
}

// ValidateRequest checks a registration request document against the
// profile schema.
func ValidateRequest(request []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(profileSchema)
	documentLoader := gojsonschema.NewBytesLoader(request)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &ValidationError{Details: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &ValidationError{Details: details}
}
