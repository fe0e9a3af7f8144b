// Package tags turns provider tag shapes into one canonical map and resolves
// the classification key and ownership metadata from it.
package tags

import (
	"fmt"
	"reflect"
)

// Normalize converts ANY provider tag shape to map[string]string.
// Accepted: slices of Key/Value structs (values or pointers, string or
// *string fields) and maps with string keys and string, *string or any values.
// Entries with an empty key are dropped. Later duplicates win.
func Normalize(tags any) map[string]string {
	result := make(map[string]string)
	if tags == nil {
		return result
	}

	v := reflect.ValueOf(tags)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return result
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			key, value := extractTagKeyValue(v.Index(i))
			if key != "" {
				result[key] = value
			}
		}

	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			key := extractStringValue(iter.Key())
			if key != "" {
				result[key] = extractStringValue(iter.Value())
			}
		}
	}

	return result
}

// extractTagKeyValue extracts Key and Value fields from any tag struct.
func extractTagKeyValue(v reflect.Value) (string, string) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", ""
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", ""
	}

	var key, value string
	if f := v.FieldByName("Key"); f.IsValid() {
		key = extractStringValue(f)
	}
	if f := v.FieldByName("Value"); f.IsValid() {
		value = extractStringValue(f)
	}
	return key, value
}

// extractStringValue handles string, *string and interface-wrapped values.
func extractStringValue(v reflect.Value) string {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool, reflect.Int, reflect.Int32, reflect.Int64, reflect.Float64:
		return fmt.Sprint(v.Interface())
	default:
		return ""
	}
}
