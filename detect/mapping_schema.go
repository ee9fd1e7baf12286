package detect

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const mappingSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["mappings"],
  "additionalProperties": false,
  "properties": {
    "mappings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["semantic_path", "candidates"],
        "additionalProperties": false,
        "properties": {
          "semantic_path": {"type": "string", "minLength": 1, "pattern": "^[^\\s.` + "`" + `]+(\\.[^\\s.` + "`" + `]+)*$"},
          "candidates": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

var (
	mappingSchema     *gojsonschema.Schema
	mappingSchemaErr  error
	mappingSchemaOnce sync.Once
)

func compiledMappingSchema() (*gojsonschema.Schema, error) {
	mappingSchemaOnce.Do(func() {
		mappingSchema, mappingSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(mappingSchemaJSON))
	})
	return mappingSchema, mappingSchemaErr
}

func validateMappingDocument(doc any) error {
	schema, err := compiledMappingSchema()
	if err != nil {
		return fmt.Errorf("failed to compile field mapping schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate field mappings: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("field mappings validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
