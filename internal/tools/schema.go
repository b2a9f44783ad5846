package tools

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compileSchema compiles the definition's parameter schema for argument
// validation. The schema document goes through a JSON round trip so the
// compiler sees plain decoded values.
func compileSchema(def Definition) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(def.Schema())
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	url := def.Name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
