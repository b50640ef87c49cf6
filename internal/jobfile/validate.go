package jobfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	jobSchemaOnce sync.Once
	jobSchema     *jsonschema.Schema
	jobSchemaErr  error
)

// compileSchema compiles schemaMap under the given resource name.
func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateJSON checks data against the job schema.
func ValidateJSON(data []byte) error {
	jobSchemaOnce.Do(func() {
		jobSchema, jobSchemaErr = compileSchema("job.json", BuildJobSchema())
	})
	if jobSchemaErr != nil {
		return jobSchemaErr
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal job: %w", err)
	}
	if err := jobSchema.Validate(v); err != nil {
		return fmt.Errorf("job does not match schema: %w", err)
	}
	return nil
}
