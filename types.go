package polarhouse

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind tags a node of the ColumnType tree.
type TypeKind uint8

const (
	TypeInt8 TypeKind = iota + 1
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUInt8
	TypeUInt16
	TypeUInt32
	TypeUInt64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeFixedString
	TypeBool
	TypeUUID
	TypeDate
	TypeDateTime
	TypeDateTime64
	TypeEnum8
	TypeEnum16
	TypeNullable
	TypeArray
	TypeLowCardinality
	// TypeStruct never appears on the wire. It is produced by the struct
	// assembler when dotted-path columns are regrouped into nested columns.
	TypeStruct
)

// EnumValue is one ('name' = value) pair of an Enum8/Enum16 descriptor.
// Order is preserved so descriptors round-trip.
type EnumValue struct {
	Name  string
	Value int16
}

// StructField is a named field of a struct column. Field order is
// significant and round-trips through flatten/unflatten.
type StructField struct {
	Name string
	Type *ColumnType
}

// ColumnType is a tagged tree describing a column's type. Parameterized
// kinds use Size (FixedString byte length, DateTime64 precision), Timezone
// (DateTime, DateTime64), Enum (Enum8/16), Elem (Nullable, Array,
// LowCardinality) and Fields (struct).
type ColumnType struct {
	Kind     TypeKind
	Size     int
	Timezone string
	Enum     []EnumValue
	Elem     *ColumnType
	Fields   []StructField
}

var simpleTypes = map[string]TypeKind{
	"Int8":     TypeInt8,
	"Int16":    TypeInt16,
	"Int32":    TypeInt32,
	"Int64":    TypeInt64,
	"UInt8":    TypeUInt8,
	"UInt16":   TypeUInt16,
	"UInt32":   TypeUInt32,
	"UInt64":   TypeUInt64,
	"Float32":  TypeFloat32,
	"Float64":  TypeFloat64,
	"String":   TypeString,
	"Bool":     TypeBool,
	"UUID":     TypeUUID,
	"Date":     TypeDate,
	"DateTime": TypeDateTime,
}

var kindNames = map[TypeKind]string{
	TypeInt8:           "Int8",
	TypeInt16:          "Int16",
	TypeInt32:          "Int32",
	TypeInt64:          "Int64",
	TypeUInt8:          "UInt8",
	TypeUInt16:         "UInt16",
	TypeUInt32:         "UInt32",
	TypeUInt64:         "UInt64",
	TypeFloat32:        "Float32",
	TypeFloat64:        "Float64",
	TypeString:         "String",
	TypeFixedString:    "FixedString",
	TypeBool:           "Bool",
	TypeUUID:           "UUID",
	TypeDate:           "Date",
	TypeDateTime:       "DateTime",
	TypeDateTime64:     "DateTime64",
	TypeEnum8:          "Enum8",
	TypeEnum16:         "Enum16",
	TypeNullable:       "Nullable",
	TypeArray:          "Array",
	TypeLowCardinality: "LowCardinality",
	TypeStruct:         "Struct",
}

// ParseColumnType parses a wire type descriptor such as
// "Array(Nullable(String))" or "DateTime64(3, 'UTC')" into a ColumnType
// tree. Descriptors nest to arbitrary depth.
func ParseColumnType(s string) (*ColumnType, error) {
	t, err := parseType(strings.TrimSpace(s))
	if err != nil {
		return nil, decodeError(ErrCodeUnknownType, err, "unsupported type descriptor %q", s)
	}
	return t, nil
}

func parseType(s string) (*ColumnType, error) {
	if kind, ok := simpleTypes[s]; ok {
		return &ColumnType{Kind: kind}, nil
	}
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("unknown type %q", s)
	}
	base := s[:open]
	args, err := splitArgs(s[open+1 : len(s)-1])
	if err != nil {
		return nil, err
	}
	switch base {
	case "Nullable", "Array", "LowCardinality":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes one argument", base)
		}
		elem, err := parseType(args[0])
		if err != nil {
			return nil, err
		}
		kind := TypeNullable
		switch base {
		case "Array":
			kind = TypeArray
		case "LowCardinality":
			kind = TypeLowCardinality
		}
		return &ColumnType{Kind: kind, Elem: elem}, nil
	case "FixedString":
		if len(args) != 1 {
			return nil, fmt.Errorf("FixedString takes one argument")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid FixedString length %q", args[0])
		}
		return &ColumnType{Kind: TypeFixedString, Size: n}, nil
	case "DateTime":
		if len(args) != 1 {
			return nil, fmt.Errorf("DateTime takes one timezone argument")
		}
		tz, err := unquote(args[0])
		if err != nil {
			return nil, err
		}
		return &ColumnType{Kind: TypeDateTime, Timezone: tz}, nil
	case "DateTime64":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("DateTime64 takes one or two arguments")
		}
		prec, err := strconv.Atoi(args[0])
		if err != nil || prec < 0 || prec > 9 {
			return nil, fmt.Errorf("invalid DateTime64 precision %q", args[0])
		}
		t := &ColumnType{Kind: TypeDateTime64, Size: prec}
		if len(args) == 2 {
			if t.Timezone, err = unquote(args[1]); err != nil {
				return nil, err
			}
		}
		return t, nil
	case "Enum8", "Enum16":
		kind := TypeEnum8
		if base == "Enum16" {
			kind = TypeEnum16
		}
		values, err := parseEnumValues(args)
		if err != nil {
			return nil, err
		}
		return &ColumnType{Kind: kind, Enum: values}, nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}

func parseEnumValues(args []string) ([]EnumValue, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty enum")
	}
	values := make([]EnumValue, 0, len(args))
	for _, arg := range args {
		eq := strings.LastIndexByte(arg, '=')
		if eq < 0 {
			return nil, fmt.Errorf("invalid enum value %q", arg)
		}
		name, err := unquote(strings.TrimSpace(arg[:eq]))
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(arg[eq+1:]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid enum value %q", arg)
		}
		values = append(values, EnumValue{Name: name, Value: int16(v)})
	}
	return values, nil
}

// splitArgs splits a parenthesized argument list at top-level commas,
// honoring nested parentheses and quoted strings.
func splitArgs(s string) ([]string, error) {
	var args []string
	depth := 0
	quoted := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quoted:
			if c == '\\' {
				i++
			} else if c == '\'' {
				quoted = false
			}
		case c == '\'':
			quoted = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", s)
			}
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if depth != 0 || quoted {
		return nil, fmt.Errorf("unbalanced descriptor %q", s)
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		args = append(args, rest)
	}
	return args, nil
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", fmt.Errorf("expected quoted string, got %q", s)
	}
	body := s[1 : len(s)-1]
	if !strings.ContainsRune(body, '\\') {
		return body, nil
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String(), nil
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// String renders the descriptor in wire form. For every parseable
// descriptor, ParseColumnType(t.String()) yields an equal tree.
func (t *ColumnType) String() string {
	switch t.Kind {
	case TypeFixedString:
		return fmt.Sprintf("FixedString(%d)", t.Size)
	case TypeDateTime:
		if t.Timezone != "" {
			return fmt.Sprintf("DateTime(%s)", quote(t.Timezone))
		}
		return "DateTime"
	case TypeDateTime64:
		if t.Timezone != "" {
			return fmt.Sprintf("DateTime64(%d, %s)", t.Size, quote(t.Timezone))
		}
		return fmt.Sprintf("DateTime64(%d)", t.Size)
	case TypeEnum8, TypeEnum16:
		parts := make([]string, len(t.Enum))
		for i, ev := range t.Enum {
			parts[i] = fmt.Sprintf("%s = %d", quote(ev.Name), ev.Value)
		}
		return fmt.Sprintf("%s(%s)", kindNames[t.Kind], strings.Join(parts, ", "))
	case TypeNullable, TypeArray, TypeLowCardinality:
		return fmt.Sprintf("%s(%s)", kindNames[t.Kind], t.Elem.String())
	case TypeStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + " " + f.Type.String()
		}
		return fmt.Sprintf("Struct(%s)", strings.Join(parts, ", "))
	}
	return kindNames[t.Kind]
}

// Equal reports whether two type trees are structurally identical.
func (t *ColumnType) Equal(other *ColumnType) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Kind != other.Kind || t.Size != other.Size || t.Timezone != other.Timezone {
		return false
	}
	if len(t.Enum) != len(other.Enum) || len(t.Fields) != len(other.Fields) {
		return false
	}
	for i := range t.Enum {
		if t.Enum[i] != other.Enum[i] {
			return false
		}
	}
	for i := range t.Fields {
		if t.Fields[i].Name != other.Fields[i].Name || !t.Fields[i].Type.Equal(other.Fields[i].Type) {
			return false
		}
	}
	if (t.Elem == nil) != (other.Elem == nil) {
		return false
	}
	if t.Elem != nil {
		return t.Elem.Equal(other.Elem)
	}
	return true
}
