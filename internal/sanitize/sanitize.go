// Package sanitize strips markup and script fragments from user-supplied strings.
// It does not replace parameterized queries; it only keeps stored display strings inert.
package sanitize

import (
	"reflect"
	"regexp"
	"strings"
)

var (
	angleBrackets = regexp.MustCompile(`[<>]`)
	jsScheme      = regexp.MustCompile(`(?i)javascript:`)
	eventHandler  = regexp.MustCompile(`(?i)on\w+=`)
)

// String removes angle brackets, javascript: prefixes and inline on*= handlers, then trims.
func String(s string) string {
	s = angleBrackets.ReplaceAllString(s, "")
	s = jsScheme.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Fields sanitizes every settable string field of the struct pointed to by v,
// descending into nested structs and *string fields. Other values are left alone.
func Fields(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	walk(rv.Elem())
}

func walk(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(String(v.String()))
		}
	case reflect.Pointer:
		if !v.IsNil() {
			walk(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				walk(v.Field(i))
			}
		}
	}
}
