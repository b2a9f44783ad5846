// Package tools holds the tool catalog offered to the reasoning engine and
// the handlers that execute each tool against the panel.
package tools

import (
	"github.com/opentalon/panelpilot/internal/provider"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	// TypeStringMap is an object whose values are all strings.
	TypeStringMap ParamType = "string_map"
)

type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// Definition describes one tool. Definitions are built once at startup and
// never mutated.
type Definition struct {
	Name        string
	Description string
	Params      []Param
}

// Schema renders the parameters as a JSON Schema object, the shape both the
// model and the argument validator consume.
func (d Definition) Schema() map[string]any {
	props := make(map[string]any, len(d.Params))
	required := make([]any, 0)
	for _, p := range d.Params {
		prop := map[string]any{"description": p.Description}
		switch p.Type {
		case TypeStringMap:
			prop["type"] = "object"
			prop["additionalProperties"] = map[string]any{"type": []any{"string", "number", "boolean"}}
		default:
			prop["type"] = string(p.Type)
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (d Definition) Spec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Schema(),
	}
}
