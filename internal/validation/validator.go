package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Validator validates structs using `validate` tags.
//
// Supported rules: required, omitempty, min=N, max=N, oneof=a b c.
// A "-" tag skips the field and everything below it.
// min/max compare numbers by value, strings and slices by length, and
// durations against a duration literal ("min=100ms").
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// FieldError names the offending field by its yaml path
type FieldError struct {
	Field string
	Rule  string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

var durationType = reflect.TypeOf(time.Duration(0))

// Validate validates a struct and every nested struct or slice of structs
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}
	return v.walk(val, "")
}

func (v *Validator) walk(val reflect.Value, prefix string) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}
		tag := fieldType.Tag.Get("validate")
		if tag == "-" {
			continue
		}
		field := val.Field(i)
		path := join(prefix, fieldName(fieldType))

		if tag != "" {
			if err := v.validateField(field, tag); err != nil {
				return &FieldError{Field: path, Rule: tag, Err: err}
			}
		}

		switch field.Kind() {
		case reflect.Struct:
			if err := v.walk(field, path); err != nil {
				return err
			}
		case reflect.Slice:
			if field.Type().Elem().Kind() != reflect.Struct {
				continue
			}
			for j := 0; j < field.Len(); j++ {
				if err := v.walk(field.Index(j), fmt.Sprintf("%s[%d]", path, j)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		arg := ""
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return errors.New("field is required")
			}

		case "omitempty":
			if field.IsZero() {
				return nil
			}

		case "min", "max":
			if arg == "" {
				return fmt.Errorf("rule %s needs an argument", ruleName)
			}
			if err := checkBound(field, ruleName, arg); err != nil {
				return err
			}

		case "oneof":
			if field.Kind() != reflect.String {
				return fmt.Errorf("oneof applies to strings, not %s", field.Kind())
			}
			allowed := strings.Fields(arg)
			ok := false
			for _, a := range allowed {
				if field.String() == a {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("%q is not one of [%s]", field.String(), strings.Join(allowed, " "))
			}

		default:
			return fmt.Errorf("unknown rule %q", ruleName)
		}
	}

	return nil
}

func checkBound(field reflect.Value, rule, arg string) error {
	var got, limit float64
	unit := ""

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(arg)
		if err != nil {
			return fmt.Errorf("bad %s bound %q: %w", rule, arg, err)
		}
		if cmp(rule, float64(field.Int()), float64(d)) {
			return nil
		}
		return boundError(rule, time.Duration(field.Int()).String(), d.String(), "")

	case field.Kind() == reflect.String, field.Kind() == reflect.Slice, field.Kind() == reflect.Map:
		got = float64(field.Len())
		unit = " length"

	case field.CanInt():
		got = float64(field.Int())
	case field.CanUint():
		got = float64(field.Uint())
	case field.CanFloat():
		got = field.Float()

	default:
		return fmt.Errorf("%s does not apply to %s", rule, field.Kind())
	}

	limit, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return fmt.Errorf("bad %s bound %q: %w", rule, arg, err)
	}
	if cmp(rule, got, limit) {
		return nil
	}
	return boundError(rule, strconv.FormatFloat(got, 'g', -1, 64), arg, unit)
}

func cmp(rule string, got, limit float64) bool {
	if rule == "min" {
		return got >= limit
	}
	return got <= limit
}

func boundError(rule, got, limit, unit string) error {
	if rule == "min" {
		return fmt.Errorf("minimum%s is %s, got %s", unit, limit, got)
	}
	return fmt.Errorf("maximum%s is %s, got %s", unit, limit, got)
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("yaml"); tag != "" {
		if name := strings.Split(tag, ",")[0]; name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
