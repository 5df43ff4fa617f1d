// Package common provides configuration, logging and process-wide helpers.
//
// Configuration strings may reference environment variables with the
// {NAME} syntax so credentials stay out of the config file:
//
//	[servers.prod]
//	token = "{JENKINS_API_TOKEN}"
package common

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// envRefPattern matches {NAME} references in strings
var envRefPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LookupFunc resolves a reference name, like os.LookupEnv
type LookupFunc func(name string) (string, bool)

// ExpandEnvReferences replaces {NAME} references in every string field of the
// configuration, including server entries. Unresolved references are an error.
func ExpandEnvReferences(config *Config, lookup LookupFunc) error {
	var unresolved []string

	if err := replaceInStruct(reflect.ValueOf(config).Elem(), "", lookup, &unresolved); err != nil {
		return err
	}

	for name, server := range config.Servers {
		v := reflect.ValueOf(&server).Elem()
		if err := replaceInStruct(v, "servers."+name, lookup, &unresolved); err != nil {
			return err
		}
		config.Servers[name] = server
	}

	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return fmt.Errorf("unresolved configuration references: %s", strings.Join(unresolved, ", "))
	}
	return nil
}

// ReplaceReferences replaces {NAME} references in s. Names that cannot be
// resolved are left in place and returned.
func ReplaceReferences(s string, lookup LookupFunc) (string, []string) {
	var missing []string
	out := envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := lookup(name); ok {
			return value
		}
		missing = append(missing, name)
		return match
	})
	return out, missing
}

func replaceInStruct(val reflect.Value, path string, lookup LookupFunc, unresolved *[]string) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		name := fieldPath(path, typ.Field(i))

		if !field.CanSet() {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			out, missing := ReplaceReferences(field.String(), lookup)
			field.SetString(out)
			for _, m := range missing {
				*unresolved = append(*unresolved, fmt.Sprintf("{%s} in %s", m, name))
			}

		case reflect.Slice:
			if field.Type().Elem().Kind() != reflect.String {
				continue
			}
			for j := 0; j < field.Len(); j++ {
				out, missing := ReplaceReferences(field.Index(j).String(), lookup)
				field.Index(j).SetString(out)
				for _, m := range missing {
					*unresolved = append(*unresolved, fmt.Sprintf("{%s} in %s[%d]", m, name, j))
				}
			}

		case reflect.Struct:
			if err := replaceInStruct(field, name, lookup, unresolved); err != nil {
				return fmt.Errorf("failed to replace in nested struct field '%s': %w", name, err)
			}
		}
	}

	return nil
}

func fieldPath(parent string, field reflect.StructField) string {
	name := field.Tag.Get("toml")
	if name == "" {
		name = field.Name
	}
	if parent == "" {
		return name
	}
	return parent + "." + name
}
