package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

func schemaPath() string {
	if env := os.Getenv("SRISHTI_EVENT_SCHEMA_PATH"); env != "" {
		return env
	}
	return filepath.Join("api", "server", "schemas", "event_schema_v1.json")
}

// ValidateEventPayload checks a raw submission against the event JSON schema
// before any typed decoding happens. Schema failures are aggregated into one
// message so the client sees every problem at once.
func ValidateEventPayload(payload []byte) error {
	path, err := filepath.Abs(schemaPath())
	if err != nil {
		return fmt.Errorf("schema path: %w", err)
	}
	schemaLoader := gojsonschema.NewReferenceLoader("file://" + path)
	documentLoader := gojsonschema.NewBytesLoader(payload)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("event failed schema validation: %s", strings.Join(problems, "; "))
	}
	return nil
}
