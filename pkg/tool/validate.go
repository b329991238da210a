package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var compiledSchemas sync.Map // input_schema bytes -> *jsonschema.Schema

// ValidateArguments checks call arguments against the tool's declared JSON
// Schema before dispatch, so a malformed argument set is rejected locally
// instead of reaching an extension process.
func ValidateArguments(t Tool, arguments json.RawMessage) error {
	if len(t.InputSchema) == 0 {
		return nil
	}

	schema, err := compileSchema(t.Name, t.InputSchema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name, err)
	}

	var decoded any
	if len(arguments) == 0 {
		arguments = []byte("{}")
	}
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return fmt.Errorf("decode arguments for %s: %w", t.Name, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for %s invalid: %w", t.Name, err)
	}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	key := name + ":" + string(raw)
	if cached, ok := compiledSchemas.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	compiledSchemas.Store(key, compiled)
	return compiled, nil
}
