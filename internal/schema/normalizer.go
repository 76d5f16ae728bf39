// Package schema turns versioned JSON Schema documents into strict
// validators for model output. Before compilation every schema is
// normalized: object nodes get additionalProperties:false and a required
// list covering all declared properties, so provider output with missing or
// undeclared fields always fails validation regardless of how the schema
// author wrote the required list.
package schema

import "sort"

// Normalize returns a deep copy of doc with every object node rewritten to
// strict form. Scalar constraints (type, enum, format, numeric bounds) are
// never touched. Applying Normalize twice yields the same document.
func Normalize(doc map[string]any) map[string]any {
	out, _ := normalizeNode(doc).(map[string]any)
	return out
}

func normalizeNode(node any) any {
	switch v := node.(type) {
	case map[string]any:
		return normalizeObjectNode(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeNode(item)
		}
		return out
	default:
		return v
	}
}

func normalizeObjectNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node)+2)
	for k, v := range node {
		out[k] = v
	}

	props, hasProps := out["properties"].(map[string]any)
	isObject := hasProps || out["type"] == "object"

	if isObject {
		if _, declared := out["additionalProperties"]; !declared {
			out["additionalProperties"] = false
		}
		if hasProps && len(props) > 0 {
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			required := make([]any, len(keys))
			for i, k := range keys {
				required[i] = k
			}
			out["required"] = required
		}
	}

	if hasProps {
		normalized := make(map[string]any, len(props))
		for k, sub := range props {
			normalized[k] = normalizeNode(sub)
		}
		out["properties"] = normalized
	}

	for _, key := range []string{"items", "prefixItems", "oneOf", "anyOf", "allOf"} {
		if sub, ok := out[key]; ok {
			out[key] = normalizeNode(sub)
		}
	}
	for _, key := range []string{"$defs", "definitions"} {
		defs, ok := out[key].(map[string]any)
		if !ok {
			continue
		}
		normalized := make(map[string]any, len(defs))
		for k, sub := range defs {
			normalized[k] = normalizeNode(sub)
		}
		out[key] = normalized
	}

	return out
}
