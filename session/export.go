package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// exportSchema constrains the shape of an imported snapshot map before any
// entry reaches the live store. Field-level invariants beyond shape (tab
// count, URL presence) are re-checked by Validate after decoding.
const exportSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"required": ["timestamp", "tabs"],
		"properties": {
			"timestamp": {"type": "integer", "minimum": 1},
			"tabs": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["url"],
					"properties": {
						"host_tab_id": {"type": "integer"},
						"url": {"type": "string", "minLength": 1},
						"title": {"type": "string"},
						"pinned": {"type": "boolean"},
						"group_id": {"type": "integer"},
						"index": {"type": "integer"},
						"favicon_url": {"type": "string"}
					}
				}
			},
			"groups": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["group_id"],
					"properties": {
						"group_id": {"type": "integer", "minimum": 0},
						"title": {"type": "string"},
						"color": {"type": "string"},
						"collapsed": {"type": "boolean"}
					}
				}
			},
			"custom_name": {"type": "string"},
			"starred": {"type": "boolean"}
		}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func importSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiledSchema, schemaErr = compiler.Compile([]byte(exportSchema))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("session: compile export schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ExportJSON serializes a snapshot map for backup or cross-install transfer.
func ExportJSON(m SnapshotMap) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("session: export: %w", err)
	}
	return data, nil
}

// ImportJSON parses and validates exported data. The whole document must
// pass schema validation; individual entries that fail Validate afterwards
// are dropped, and their count is returned alongside the surviving map.
func ImportJSON(data []byte) (SnapshotMap, int, error) {
	schema, err := importSchema()
	if err != nil {
		return nil, 0, err
	}
	result := schema.ValidateJSON(data)
	if !result.IsValid() {
		return nil, 0, fmt.Errorf("session: import: schema validation failed: %v", result.Errors)
	}

	var m SnapshotMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, 0, fmt.Errorf("session: import: decode: %w", err)
	}

	dropped := 0
	for id, snap := range m {
		if id == "" || snap.Validate() != nil {
			delete(m, id)
			dropped++
		}
	}
	return m, dropped, nil
}
