package extension

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// validateAgainstRemoteSchema checks arguments against an extension's own
// tools/list-declared schema, using gojsonschema rather than the
// jsonschema/v5 validator pkg/tool uses for caller-declared tools. The
// pack's own repos carry both libraries side by side for exactly this
// reason: one validator per schema-producing party.
func validateAgainstRemoteSchema(localName string, schema json.RawMessage, arguments json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)

	if len(arguments) == 0 {
		arguments = []byte("{}")
	}
	docLoader := gojsonschema.NewBytesLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("extension: compile schema for %s: %w", localName, err)
	}
	if !result.Valid() {
		return fmt.Errorf("extension: arguments for %s invalid: %s", localName, describeErrors(result.Errors()))
	}
	return nil
}

func describeErrors(errs []gojsonschema.ResultError) string {
	if len(errs) == 0 {
		return "unknown validation error"
	}
	msg := errs[0].String()
	for _, e := range errs[1:] {
		msg += "; " + e.String()
	}
	return msg
}
