// Package fieldschema provides a schema declared as a list of typed fields.
// It is the schema kind used by YAML configuration files.
package fieldschema

// Field defines a field of an object schema.
type Field struct {
	// Name is the key of the field in the wire mapping.
	Name string `yaml:"name" json:"name"`

	// Type is the field type. See FieldType constants. Empty means TypeAny.
	Type FieldType `yaml:"type,omitempty" json:"type,omitempty"`

	// Required indicates the key must be present.
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Nullable allows an explicit null.
	Nullable bool `yaml:"nullable,omitempty" json:"nullable,omitempty"`

	// Default is used when the key is absent or null.
	Default any `yaml:"default,omitempty" json:"default,omitempty"`

	// Values lists valid values for enum fields.
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`

	// Fields declares the nested fields of an object field.
	// An object field without Fields accepts any mapping.
	Fields []Field `yaml:"fields,omitempty" json:"fields,omitempty"`

	// Items declares the element type of an array field.
	Items *Field `yaml:"items,omitempty" json:"items,omitempty"`

	// Constraints defines additional validation rules.
	Constraints []Constraint `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// FieldType represents the type of a field.
type FieldType string

const (
	// Primitive types
	TypeString    FieldType = "string"
	TypeInt       FieldType = "int"
	TypeFloat     FieldType = "float"
	TypeBool      FieldType = "bool"
	TypeTimestamp FieldType = "timestamp"

	// Semantic types (string with validation)
	TypeEmail FieldType = "email"
	TypeURL   FieldType = "url"
	TypeUUID  FieldType = "uuid"
	TypeEnum  FieldType = "enum" // Requires Values

	// Composite types
	TypeObject  FieldType = "object" // a mapping, optionally with Fields
	TypeArray   FieldType = "array"  // a list, optionally with Items
	TypeStrings FieldType = "strings"
	TypeInts    FieldType = "ints"

	TypeAny FieldType = "any"
)

// Known reports whether t is a recognised field type.
func (t FieldType) Known() bool {
	switch t {
	case "", TypeString, TypeInt, TypeFloat, TypeBool, TypeTimestamp,
		TypeEmail, TypeURL, TypeUUID, TypeEnum,
		TypeObject, TypeArray, TypeStrings, TypeInts, TypeAny:
		return true
	}
	return false
}

// String is a shorthand for a required string field.
func String(name string) Field {
	return Field{Name: name, Type: TypeString, Required: true}
}

// Int is a shorthand for a required int field.
func Int(name string) Field {
	return Field{Name: name, Type: TypeInt, Required: true}
}

// Object is a shorthand for a required object field.
func Object(name string, fields ...Field) Field {
	return Field{Name: name, Type: TypeObject, Required: true, Fields: fields}
}

// Optional returns a copy of f that may be omitted.
func (f Field) Optional() Field {
	f.Required = false
	return f
}
