package flexy

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator evaluates declared field rules against a staged attribute set.
// Rules are the pipe-delimited form declared on FieldDefinition, e.g.
// "required|string|min:3". Cross-field rules such as required_if see the
// entire staged set, so validation must run once per save across all dirty
// fields together.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator { return &Validator{} }

// Validate checks every staged value against its field's declared and
// implicit rules. It returns a *ValidationError carrying per-field message
// lists when any rule fails, nil otherwise.
func (v *Validator) Validate(fields map[string]*FieldDefinition, staged map[string]any) error {
	verr := NewValidationError()
	for name, value := range staged {
		field, ok := fields[name]
		if !ok {
			continue
		}
		v.validateField(field, value, staged, verr)
	}
	return verr.ToError()
}

func (v *Validator) validateField(field *FieldDefinition, value any, staged map[string]any, verr *ValidationError) {
	rules := field.Rules()
	nullable := hasRule(rules, "nullable")

	for _, rule := range rules {
		name, param := splitRule(rule)
		if name == "nullable" {
			continue
		}
		// Absent values only fail presence rules.
		if isEmptyValue(value) && name != "required" && name != "required_if" {
			continue
		}
		if nullable && value == nil && name != "required_if" {
			continue
		}
		if ok, msg := v.checkRule(field, name, param, value, staged); !ok {
			verr.Add(field.Name, v.message(field, name, msg))
		}
	}

	v.checkOptions(field, value, verr)
	v.checkJSONSchema(field, value, verr)
}

// checkRule evaluates one rule; it returns success plus the default message
// used on failure.
func (v *Validator) checkRule(field *FieldDefinition, rule, param string, value any, staged map[string]any) (bool, string) {
	label := fieldLabel(field)
	switch rule {
	case "required":
		if isEmptyValue(value) {
			return false, fmt.Sprintf("the %s field is required", label)
		}
	case "required_if":
		other, expected := splitParamPair(param)
		sibling, present := staged[other]
		if present && stringify(sibling) == expected && isEmptyValue(value) {
			return false, fmt.Sprintf("the %s field is required when %s is %s", label, other, expected)
		}
	case "string":
		if _, ok := value.(string); !ok {
			return false, fmt.Sprintf("the %s field must be a string", label)
		}
	case "integer":
		if !isIntegral(value) {
			return false, fmt.Sprintf("the %s field must be an integer", label)
		}
	case "numeric":
		if _, ok := toFloat(value); !ok {
			return false, fmt.Sprintf("the %s field must be numeric", label)
		}
	case "boolean":
		switch value.(type) {
		case bool:
		default:
			return false, fmt.Sprintf("the %s field must be a boolean", label)
		}
	case "array":
		if reflect.ValueOf(value).Kind() != reflect.Slice {
			return false, fmt.Sprintf("the %s field must be an array", label)
		}
	case "date":
		if !isDateLike(value) {
			return false, fmt.Sprintf("the %s field must be a valid date", label)
		}
	case "json":
		if _, err := json.Marshal(value); err != nil {
			return false, fmt.Sprintf("the %s field must be valid json", label)
		}
	case "email":
		s, ok := value.(string)
		if !ok {
			return false, fmt.Sprintf("the %s field must be a valid email address", label)
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return false, fmt.Sprintf("the %s field must be a valid email address", label)
		}
	case "regex":
		s, ok := value.(string)
		if !ok {
			return false, fmt.Sprintf("the %s field format is invalid", label)
		}
		re, err := regexp.Compile(param)
		if err != nil || !re.MatchString(s) {
			return false, fmt.Sprintf("the %s field format is invalid", label)
		}
	case "min":
		limit, _ := strconv.ParseFloat(param, 64)
		if size, ok := sizeOf(value); ok && size < limit {
			return false, fmt.Sprintf("the %s field must be at least %s", label, param)
		}
	case "max":
		limit, _ := strconv.ParseFloat(param, 64)
		if size, ok := sizeOf(value); ok && size > limit {
			return false, fmt.Sprintf("the %s field may not be greater than %s", label, param)
		}
	case "between":
		lo, hi := splitParamPair(param)
		loF, _ := strconv.ParseFloat(lo, 64)
		hiF, _ := strconv.ParseFloat(hi, 64)
		if size, ok := sizeOf(value); ok && (size < loF || size > hiF) {
			return false, fmt.Sprintf("the %s field must be between %s and %s", label, lo, hi)
		}
	case "size":
		want, _ := strconv.ParseFloat(param, 64)
		if size, ok := sizeOf(value); ok && size != want {
			return false, fmt.Sprintf("the %s field must be %s", label, param)
		}
	case "in":
		if !inList(value, strings.Split(param, ",")) {
			return false, fmt.Sprintf("the selected %s is invalid", label)
		}
	case "not_in":
		if inList(value, strings.Split(param, ",")) {
			return false, fmt.Sprintf("the selected %s is invalid", label)
		}
	default:
		// Unknown rule names are ignored rather than failing the save.
	}
	return true, ""
}

// checkOptions synthesizes the implicit membership rules from metadata
// options: single-valued fields must be one of the allowed values; fields
// declared multiple must be an array whose every element is allowed.
func (v *Validator) checkOptions(field *FieldDefinition, value any, verr *ValidationError) {
	opts, ok := field.Options()
	if !ok || isEmptyValue(value) {
		return
	}
	allowed := make(map[string]struct{}, len(opts))
	allowedList := make([]string, 0, len(opts))
	for _, opt := range opts {
		allowed[opt.Value] = struct{}{}
		allowedList = append(allowedList, opt.Value)
	}
	label := fieldLabel(field)

	if field.Multiple() {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice {
			verr.Add(field.Name, v.message(field, "multiple",
				fmt.Sprintf("the %s field must be an array of allowed values", label)))
			return
		}
		for i := 0; i < rv.Len(); i++ {
			item := stringify(rv.Index(i).Interface())
			if _, ok := allowed[item]; !ok {
				verr.Add(field.Name, v.message(field, "in",
					fmt.Sprintf("the %s field contains %q which is not one of: %s", label, item, strings.Join(allowedList, ", "))))
			}
		}
		return
	}

	if _, ok := allowed[stringify(value)]; !ok {
		verr.Add(field.Name, v.message(field, "in",
			fmt.Sprintf("the %s field must be one of: %s", label, strings.Join(allowedList, ", "))))
	}
}

// checkJSONSchema validates JSON-typed values against an embedded JSON Schema
// document when the field metadata carries one.
func (v *Validator) checkJSONSchema(field *FieldDefinition, value any, verr *ValidationError) {
	if field.Type != TypeJSON || isEmptyValue(value) {
		return
	}
	raw, ok := field.Metadata[MetaJSONSchema]
	if !ok || raw == nil {
		return
	}
	if err := validateAgainstJSONSchema(raw, value); err != nil {
		verr.Add(field.Name, v.message(field, "json_schema",
			fmt.Sprintf("the %s field does not match its schema: %v", fieldLabel(field), err)))
	}
}

// validateAgainstJSONSchema accepts the schema as a map, string or []byte.
func validateAgainstJSONSchema(rawSchema any, value any) error {
	var schemaBytes []byte
	switch s := rawSchema.(type) {
	case []byte:
		schemaBytes = s
	case string:
		schemaBytes = []byte(s)
	default:
		encoded, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal schema: %w", err)
		}
		schemaBytes = encoded
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return fmt.Errorf("unmarshal into jsonschema.Schema: %w", err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("resolve json schema: %w", err)
	}

	// Round-trip through the encoder so struct payloads validate the same
	// way their stored form will.
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return resolved.Validate(decoded)
}

// message resolves the per-field custom message for a rule key, falling back
// to the default.
func (v *Validator) message(field *FieldDefinition, rule, fallback string) string {
	if msg, ok := field.ValidationMessages[rule]; ok && msg != "" {
		return msg
	}
	return fallback
}

func fieldLabel(field *FieldDefinition) string {
	if field.Label != "" {
		return field.Label
	}
	return field.Name
}

func hasRule(rules []string, name string) bool {
	for _, rule := range rules {
		if ruleName, _ := splitRule(rule); ruleName == name {
			return true
		}
	}
	return false
}

func splitRule(rule string) (name, param string) {
	if idx := strings.Index(rule, ":"); idx >= 0 {
		return strings.TrimSpace(rule[:idx]), strings.TrimSpace(rule[idx+1:])
	}
	return strings.TrimSpace(rule), ""
}

func splitParamPair(param string) (string, string) {
	if idx := strings.Index(param, ","); idx >= 0 {
		return strings.TrimSpace(param[:idx]), strings.TrimSpace(param[idx+1:])
	}
	return strings.TrimSpace(param), ""
}

func isEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}

func isIntegral(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return float64(v) == float64(int64(v))
	case string:
		_, err := strconv.ParseInt(v, 10, 64)
		return err == nil
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func isDateLike(value any) bool {
	switch v := value.(type) {
	case string:
		_, err := parseTimeString(v)
		return err == nil
	default:
		_, err := Coerce(TypeDate, value)
		return err == nil
	}
}

// sizeOf returns the magnitude min/max/size/between compare against: the
// numeric value for numbers, the length for strings and slices.
func sizeOf(value any) (float64, bool) {
	if f, ok := toFloat(value); ok {
		if _, isString := value.(string); !isString {
			return f, true
		}
	}
	switch v := value.(type) {
	case string:
		return float64(len([]rune(v))), true
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map {
			return float64(rv.Len()), true
		}
	}
	return 0, false
}

func inList(value any, allowed []string) bool {
	needle := stringify(value)
	for _, item := range allowed {
		if strings.TrimSpace(item) == needle {
			return true
		}
	}
	return false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
