package runner

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// ExpandTemplates replaces ${VAR} references in the fields of the struct
// pointed to by in. Only fields tagged `template:""` are expanded: string,
// *string and map[string]string values. Nested structs and non-nil struct
// pointers are walked whether tagged or not. `template:"-"` opts a field out.
//
// Every failing field is reported, named by its yaml path.
func ExpandTemplates[T any](in *T, variables map[string]string) error {
	if in == nil {
		return nil
	}

	v := reflect.ValueOf(in).Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("templates can only be expanded in a struct, got %s", v.Type())
	}

	e := &expander{variables: variables}
	e.walk(v, "")
	return e.errs
}

type expander struct {
	variables map[string]string
	errs      error
}

func (e *expander) fail(path string, err error) {
	e.errs = errors.Join(e.errs, fmt.Errorf("%s: %w", path, err))
}

func (e *expander) walk(v reflect.Value, prefix string) {
	typ := v.Type()
	for i := range typ.NumField() {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}

		field := v.Field(i)
		path := fieldPath(prefix, sf)
		tag, tagged := sf.Tag.Lookup("template")
		expand := tagged && tag != "-"

		switch field.Kind() {
		case reflect.String:
			if expand {
				e.setString(field, path)
			}

		case reflect.Ptr:
			if field.IsNil() {
				continue
			}
			switch elem := field.Elem(); elem.Kind() {
			case reflect.String:
				if expand {
					// copy so a shared pointer is never rewritten
					cp := reflect.New(elem.Type())
					cp.Elem().SetString(elem.String())
					e.setString(cp.Elem(), path)
					field.Set(cp)
				}
			case reflect.Struct:
				e.walk(elem, path)
			}

		case reflect.Map:
			if !expand || field.IsNil() {
				continue
			}
			m, ok := field.Interface().(map[string]string)
			if !ok {
				continue
			}
			expanded, err := ExpandMap(m, e.variables)
			if err != nil {
				e.fail(path, err)
				continue
			}
			field.Set(reflect.ValueOf(expanded))

		case reflect.Struct:
			e.walk(field, path)
		}
	}
}

func (e *expander) setString(field reflect.Value, path string) {
	expanded, err := Expand(field.String(), e.variables)
	if err != nil {
		e.fail(path, err)
		return
	}
	field.SetString(expanded)
}

// fieldPath joins the yaml name of sf to prefix.
func fieldPath(prefix string, sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
	if name == "" {
		name = sf.Name
	}
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Expand replaces ${VAR} and $VAR references in value. Referencing a variable
// missing from variables is an error.
func Expand(value string, variables map[string]string) (string, error) {
	var missing []string

	result := os.Expand(value, func(key string) string {
		if val, ok := variables[key]; ok {
			return val
		}
		missing = append(missing, key)
		return ""
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("variables %q are not allowed, pass them with --allowed-env", missing)
	}
	return result, nil
}

// ExpandMap expands every value of values into a new map.
func ExpandMap(values map[string]string, variables map[string]string) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}

	result := make(map[string]string, len(values))
	var errs error
	for k, v := range values {
		expanded, err := Expand(v, variables)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		result[k] = expanded
	}

	if errs != nil {
		return nil, errs
	}
	return result, nil
}
