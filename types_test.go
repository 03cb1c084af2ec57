package polarhouse

import (
	"testing"
)

func TestParseColumnTypeSimple(t *testing.T) {
	for descriptor, kind := range map[string]TypeKind{
		"Int8":     TypeInt8,
		"Int64":    TypeInt64,
		"UInt32":   TypeUInt32,
		"Float64":  TypeFloat64,
		"String":   TypeString,
		"Bool":     TypeBool,
		"UUID":     TypeUUID,
		"Date":     TypeDate,
		"DateTime": TypeDateTime,
	} {
		ct, err := ParseColumnType(descriptor)
		assertNilF(t, err, descriptor)
		assertEqualE(t, ct.Kind, kind, descriptor)
		assertEqualE(t, ct.String(), descriptor)
	}
}

func TestParseColumnTypeNested(t *testing.T) {
	ct := mustType(t, "Array(Nullable(String))")
	assertEqualF(t, ct.Kind, TypeArray)
	assertEqualF(t, ct.Elem.Kind, TypeNullable)
	assertEqualE(t, ct.Elem.Elem.Kind, TypeString)

	deep := mustType(t, "Array(Array(Array(UInt64)))")
	assertEqualE(t, deep.Elem.Elem.Elem.Kind, TypeUInt64)

	lc := mustType(t, "LowCardinality(Nullable(String))")
	assertEqualE(t, lc.Kind, TypeLowCardinality)
	assertEqualE(t, lc.Elem.Kind, TypeNullable)
}

func TestParseColumnTypeParameterized(t *testing.T) {
	fs := mustType(t, "FixedString(16)")
	assertEqualE(t, fs.Size, 16)

	dt := mustType(t, "DateTime('Europe/Paris')")
	assertEqualE(t, dt.Timezone, "Europe/Paris")

	dt64 := mustType(t, "DateTime64(3, 'UTC')")
	assertEqualE(t, dt64.Size, 3)
	assertEqualE(t, dt64.Timezone, "UTC")

	enum := mustType(t, "Enum8('red' = 1, 'green' = 2, 'bl\\'ue' = -3)")
	assertEqualF(t, len(enum.Enum), 3)
	assertEqualE(t, enum.Enum[2].Name, "bl'ue")
	assertEqualE(t, enum.Enum[2].Value, int16(-3))
}

func TestColumnTypeStringRoundTrip(t *testing.T) {
	for _, descriptor := range []string{
		"Nullable(Int32)",
		"Array(Nullable(String))",
		"FixedString(8)",
		"DateTime64(6, 'UTC')",
		"Enum16('a' = 1, 'b' = 2)",
		"LowCardinality(String)",
	} {
		ct := mustType(t, descriptor)
		again := mustType(t, ct.String())
		assertTrueE(t, ct.Equal(again), descriptor)
	}
}

func TestParseColumnTypeUnknown(t *testing.T) {
	for _, descriptor := range []string{
		"Map(String, UInt64)",
		"Gibberish",
		"Array(",
		"FixedString(-1)",
		"Enum8()",
	} {
		_, err := ParseColumnType(descriptor)
		var phErr *Error
		assertErrorsAsF(t, err, &phErr, descriptor)
		assertEqualE(t, phErr.Kind, ErrKindDecode, descriptor)
		assertEqualE(t, phErr.Code, ErrCodeUnknownType, descriptor)
	}
}
