package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema compiles a raw JSON schema document for repeated validation.
// Callers should compile once (e.g. at skill/tool registration) and reuse the
// returned *jsonschema.Schema for every instance check.
func CompileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const resourceName = "schema.json"
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// ValidateAgainstSchema checks that instance (a JSON document) satisfies
// schema. It compiles the schema on every call; callers on a hot path should
// use CompileSchema once and call schema.Validate directly instead.
func ValidateAgainstSchema(schema json.RawMessage, instance json.RawMessage) error {
	compiled, err := CompileSchema(schema)
	if err != nil {
		return err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(instance))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("unmarshal instance: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return err
	}
	return nil
}

// ValidateInvokeParams decodes and validates an "invoke" request's params
// against a skill's compiled input schema. It returns an *RPCError with the
// canonical code on any structural failure, ready to be written back to the
// caller.
func ValidateInvokeParams(raw json.RawMessage, skill Skill) (InvokeParams, error) {
	var params InvokeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, &RPCError{Code: ErrInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	inputJSON, err := json.Marshal(params.Input)
	if err != nil {
		return params, &RPCError{Code: ErrInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	if err := ValidateAgainstSchema(skill.InputSchema, inputJSON); err != nil {
		return params, &RPCError{Code: ErrInvalidParams, Message: fmt.Sprintf("input does not match schema: %v", err)}
	}
	return params, nil
}
