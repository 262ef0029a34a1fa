// Package config implements the "Configuration accessor": a keyed JSON
// lookup service where every stage looks up the handful of keys it cares
// about directly, rather than unmarshalling into one large struct.
//
// Grounded on risaLib/include/risa/ConfigReader/read_json.hpp's three
// template methods (get_value<T>, get_element_in_list,
// get_list_of_elements), transliterated with Go generics. Parsing itself
// uses the standard library encoding/json: no third-party JSON library
// fits this shape any better.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Reader is a parsed JSON configuration document with generic keyed lookups.
// The zero value is not usable; construct with Load.
type Reader struct {
	root map[string]any
}

// Load reads and parses path as a single JSON object.
func Load(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &Reader{root: root}, nil
}

// Value looks up a scalar key and converts it to T. Mirrors read_json::
// get_value<T>.
func Value[T any](r *Reader, key string) (T, error) {
	var zero T
	raw, ok := r.root[key]
	if !ok {
		return zero, fmt.Errorf("config: missing key %q", key)
	}
	return convert[T](key, raw)
}

// ElementInList scans the array at listKey for the first object whose field
// matchField equals matchValue, and returns field's value converted to T.
// Mirrors read_json::get_element_in_list.
func ElementInList[T any](r *Reader, listKey, field, matchField string, matchValue any) (T, error) {
	var zero T
	items, err := list(r, listKey)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if fmt.Sprint(obj[matchField]) == fmt.Sprint(matchValue) {
			raw, ok := obj[field]
			if !ok {
				return zero, fmt.Errorf("config: list %q entry missing field %q", listKey, field)
			}
			return convert[T](field, raw)
		}
	}
	return zero, fmt.Errorf("config: list %q has no entry with %s=%v", listKey, matchField, matchValue)
}

// ListOf returns every element of the array at listKey converted to T.
// Mirrors read_json::get_list_of_elements.
func ListOf[T any](r *Reader, listKey string) ([]T, error) {
	items, err := list(r, listKey)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := convert[T](listKey, item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func list(r *Reader, listKey string) ([]any, error) {
	raw, ok := r.root[listKey]
	if !ok {
		return nil, fmt.Errorf("config: missing list %q", listKey)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("config: key %q is not a list", listKey)
	}
	return items, nil
}

// convert round-trips raw (already json.Unmarshal'd into any) through the
// encoding/json representation for T, so callers can ask for a concrete
// struct (e.g. an "inputs[]" entry) as well as scalars.
func convert[T any](key string, raw any) (T, error) {
	var out T
	if v, ok := raw.(T); ok {
		return v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return out, fmt.Errorf("config: key %q: %w", key, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("config: key %q: cannot convert to %T: %w", key, out, err)
	}
	return out, nil
}
