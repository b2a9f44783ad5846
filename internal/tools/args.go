package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Args are the decoded arguments of one invocation.
type Args map[string]any

// String returns a trimmed string argument, or "" when absent.
func (a Args) String(name string) string {
	v, ok := a[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func (a Args) RequireString(name string) (string, error) {
	s := a.String(name)
	if s == "" {
		return "", &ArgumentError{Name: name, Reason: "is required"}
	}
	return s, nil
}

// StringMap returns an object argument with every value rendered as a
// string. Numbers keep their JSON spelling.
func (a Args) StringMap(name string) (map[string]string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ArgumentError{Name: name, Reason: "must be an object"}
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		switch t := val.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		case nil:
			out[k] = ""
		default:
			return nil, &ArgumentError{Name: name, Reason: fmt.Sprintf("value for %q must be a string", k)}
		}
	}
	return out, nil
}

func decodeArgs(raw json.RawMessage) (Args, error) {
	args := Args{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return args, nil
}
