// Package schema reduces arbitrary JSON Schema documents to the subset that
// current-generation LLM providers accept as tool parameter schemas.
package schema

import (
	"sort"
	"strings"
)

// structuralKeys are purely structural or out-of-scope for LLM consumption
// and are stripped unconditionally at every level.
var structuralKeys = []string{
	"$schema", "$ref", "$id", "$defs", "definitions",
	"$comment", "examples", "readOnly", "writeOnly", "deprecated",
	"contentMediaType", "contentEncoding", "if", "then", "else",
}

// Sanitize mutates schema in place, reducing it to the JSON Schema subset
// LLM tool-calling providers accept. Non-object inputs are returned
// unchanged. Sanitize is total: it never fails and is idempotent.
func Sanitize(value any) any {
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}

	for _, key := range structuralKeys {
		delete(obj, key)
	}

	flattenAllOf(obj)
	flattenVariant(obj, "anyOf")
	flattenVariant(obj, "oneOf")

	if props, ok := obj["properties"].(map[string]any); ok {
		for key, sub := range props {
			props[key] = Sanitize(sub)
		}
	}
	if items, ok := obj["items"]; ok {
		obj["items"] = Sanitize(items)
	}
	if additional, ok := obj["additionalProperties"]; ok {
		if _, isObj := additional.(map[string]any); isObj {
			obj["additionalProperties"] = Sanitize(additional)
		}
	}

	return obj
}

// flattenAllOf merges allOf entries into the parent schema. A single entry
// merges directly (parent keys win). Multiple entries union properties and
// required, with later entries winning conflicting property definitions
// over earlier entries (but never over the parent).
func flattenAllOf(obj map[string]any) {
	raw, ok := obj["allOf"]
	delete(obj, "allOf")
	if !ok {
		return
	}
	entries, ok := raw.([]any)
	if !ok || len(entries) == 0 {
		return
	}

	if len(entries) == 1 {
		if inner, ok := entries[0].(map[string]any); ok {
			mergeMissing(obj, inner)
		}
		return
	}

	mergedProps := map[string]any{}
	var mergedRequired []string
	var descParts []string
	seenRequired := map[string]bool{}

	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if props, ok := entry["properties"].(map[string]any); ok {
			for k, v := range props {
				mergedProps[k] = v
			}
		}
		if req, ok := entry["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok && !seenRequired[s] {
					seenRequired[s] = true
					mergedRequired = append(mergedRequired, s)
				}
			}
		}
		if desc, ok := entry["description"].(string); ok && desc != "" {
			descParts = append(descParts, desc)
		}
	}

	if len(mergedProps) > 0 {
		existing, _ := obj["properties"].(map[string]any)
		if existing == nil {
			existing = map[string]any{}
		}
		for k, v := range mergedProps {
			existing[k] = v
		}
		obj["properties"] = existing
	}
	if len(mergedRequired) > 0 {
		existing, _ := obj["required"].([]any)
		present := map[string]bool{}
		for _, r := range existing {
			if s, ok := r.(string); ok {
				present[s] = true
			}
		}
		for _, r := range mergedRequired {
			if !present[r] {
				existing = append(existing, r)
				present[r] = true
			}
		}
		obj["required"] = existing
	}
	if len(descParts) > 0 {
		if _, has := obj["description"]; !has {
			obj["description"] = strings.Join(descParts, ". ")
		}
	}
}

// flattenVariant handles anyOf/oneOf: a single variant merges like allOf; a
// multi-variant list is removed and replaced with a synthesized description
// unless the parent already carries one, defaulting type to "string".
func flattenVariant(obj map[string]any, keyword string) {
	raw, ok := obj[keyword]
	delete(obj, keyword)
	if !ok {
		return
	}
	entries, ok := raw.([]any)
	if !ok || len(entries) == 0 {
		return
	}

	if len(entries) == 1 {
		if inner, ok := entries[0].(map[string]any); ok {
			mergeMissing(obj, inner)
		}
		return
	}

	var labels []string
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := entry["type"].(string); ok && t != "" {
			labels = append(labels, t)
			continue
		}
		if d, ok := entry["description"].(string); ok && d != "" {
			labels = append(labels, d)
		}
	}

	if len(labels) > 0 {
		if _, has := obj["description"]; !has {
			obj["description"] = "One of: " + strings.Join(labels, ", ")
		}
	}
	if _, has := obj["type"]; !has {
		obj["type"] = "string"
	}
}

// mergeMissing copies keys from src into dst that dst does not already have.
func mergeMissing(dst, src map[string]any) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, has := dst[k]; !has {
			dst[k] = src[k]
		}
	}
}
