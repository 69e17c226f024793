package store

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rulesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "blockedPrefixes": {"type": ["array", "null"], "items": {"type": "string"}},
    "permittedPrefixes": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func rulesFileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("rules.schema.json", rulesSchema)
	})
	return compiledSchema, schemaErr
}
