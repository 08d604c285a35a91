package convert

import (
	"bytes"
	"encoding/json"
)

// Keywords neither backend accepts in a function parameter schema.
var droppedSchemaKeys = map[string]bool{
	"$schema":              true,
	"additionalProperties": true,
	"title":                true,
	"examples":             true,
}

// CleanJSONSchema returns a deep copy of schema without the unsupported keywords
// at any depth, including inside properties and $defs: a property named title or
// examples is removed along with the keyword. "format" is dropped only on
// string-typed objects. Non-object values are returned unchanged; the input is
// never modified.
func CleanJSONSchema(schema any) any {
	m, ok := schema.(map[string]any)
	if !ok {
		return schema
	}
	return cleanSchemaObject(m)
}

func cleanSchemaObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	isString := m["type"] == "string"
	for k, v := range m {
		switch {
		case droppedSchemaKeys[k]:
		case k == "format" && isString:
		default:
			out[k] = cleanSchemaValue(v)
		}
	}
	return out
}

func cleanSchemaValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cleanSchemaObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cleanSchemaValue(item)
		}
		return out
	default:
		return v
	}
}

// cleanRawSchema decodes an input_schema and cleans it. An empty schema yields nil.
func cleanRawSchema(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return CleanJSONSchema(v), nil
}
