package polarhouse

import (
	"bytes"
	"testing"
	"time"
)

// roundTripBlock encodes a block in standalone Native form and decodes it
// back, returning the decoded block.
func roundTripBlock(t *testing.T, b *block) *block {
	w := &writer{}
	assertNilF(t, writeBlock(w, b, false))
	decoded, err := readBlock(newReader(bytes.NewReader(w.buf)), false)
	assertNilF(t, err)
	return decoded
}

func TestColumnScalarRoundTrip(t *testing.T) {
	b := &block{
		rows: 3,
		columns: []Column{
			testCol(t, "i8", "Int8", &vec[int8]{vals: []int8{-1, 0, 127}}),
			testCol(t, "i64", "Int64", int64Vec(-5, 0, 1<<40)),
			testCol(t, "u16", "UInt16", &vec[uint16]{vals: []uint16{0, 1, 65535}}),
			testCol(t, "f64", "Float64", &vec[float64]{vals: []float64{-1.5, 0, 2.25}}),
			testCol(t, "s", "String", strVec("", "a", "hello world")),
			testCol(t, "fs", "FixedString(4)", strVec("abcd", "ef\x00\x00", "1234")),
			testCol(t, "b", "Bool", &vec[bool]{vals: []bool{true, false, true}}),
		},
	}
	decoded := roundTripBlock(t, b)
	assertEqualF(t, decoded.rows, 3)
	assertEqualF(t, len(decoded.columns), len(b.columns))
	for i := range b.columns {
		assertDeepEqualE(t, decoded.columns[i], b.columns[i], b.columns[i].Name)
	}
}

func TestColumnTemporalRoundTrip(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	assertNilF(t, err)
	b := &block{
		rows: 2,
		columns: []Column{
			testCol(t, "d", "Date", &vec[time.Time]{vals: []time.Time{
				time.Unix(0, 0).UTC(),
				time.Unix(19000*86400, 0).UTC(),
			}}),
			testCol(t, "dt", "DateTime('Europe/Paris')", &vec[time.Time]{vals: []time.Time{
				time.Unix(1700000000, 0).In(paris),
				time.Unix(0, 0).In(paris),
			}}),
			testCol(t, "dt64", "DateTime64(3, 'UTC')", &vec[time.Time]{vals: []time.Time{
				time.Unix(0, 1700000000123*int64(time.Millisecond)).UTC(),
				time.Unix(0, 0).UTC(),
			}}),
		},
	}
	decoded := roundTripBlock(t, b)
	for i := range b.columns {
		assertDeepEqualE(t, decoded.columns[i], b.columns[i], b.columns[i].Name)
	}
}

func TestColumnUUIDRoundTrip(t *testing.T) {
	b := &block{
		rows: 2,
		columns: []Column{
			testCol(t, "id", "UUID", strVec(
				"6f7b4a12-3c1d-4e8f-9a0b-1c2d3e4f5a6b",
				"00000000-0000-0000-0000-000000000000",
			)),
		},
	}
	decoded := roundTripBlock(t, b)
	assertDeepEqualE(t, decoded.columns[0], b.columns[0])
}

func TestColumnEnumRoundTrip(t *testing.T) {
	b := &block{
		rows: 3,
		columns: []Column{
			testCol(t, "color", "Enum8('red' = 1, 'green' = 2, 'blue' = 3)", strVec("green", "red", "blue")),
			testCol(t, "size", "Enum16('s' = -10, 'xl' = 300)", strVec("xl", "s", "xl")),
		},
	}
	decoded := roundTripBlock(t, b)
	for i := range b.columns {
		assertDeepEqualE(t, decoded.columns[i], b.columns[i], b.columns[i].Name)
	}
}

func TestColumnNullableRoundTrip(t *testing.T) {
	b := &block{
		rows: 3,
		columns: []Column{
			testCol(t, "v", "Nullable(Int32)", &nullableData{
				nulls: []bool{false, true, false},
				inner: int32Vec(7, 0, -9),
			}),
		},
	}
	decoded := roundTripBlock(t, b)
	assertDeepEqualE(t, decoded.columns[0], b.columns[0])
	assertEqualE(t, decoded.columns[0].Value(0), int32(7))
	assertNilE(t, decoded.columns[0].Value(1))
}

func TestColumnArrayRoundTrip(t *testing.T) {
	inner := &arrayData{
		offsets: []uint64{2, 2, 5},
		elem:    strVec("a", "b", "c", "d", "e"),
	}
	nested := &arrayData{
		offsets: []uint64{1, 3, 3},
		elem: &arrayData{
			offsets: []uint64{2, 2, 4},
			elem:    int64Vec(1, 2, 3, 4),
		},
	}
	b := &block{
		rows: 3,
		columns: []Column{
			testCol(t, "tags", "Array(String)", inner),
			testCol(t, "matrix", "Array(Array(Int64))", nested),
		},
	}
	decoded := roundTripBlock(t, b)
	for i := range b.columns {
		assertDeepEqualE(t, decoded.columns[i], b.columns[i], b.columns[i].Name)
	}
	assertDeepEqualE(t, decoded.columns[0].Value(0), []any{"a", "b"})
	assertDeepEqualE(t, decoded.columns[0].Value(1), []any{})
	assertDeepEqualE(t, decoded.columns[1].Value(1), []any{[]any{}, []any{int64(3), int64(4)}})
}

func TestColumnLowCardinalityRoundTrip(t *testing.T) {
	b := &block{
		rows: 4,
		columns: []Column{
			testCol(t, "plain", "LowCardinality(String)", strVec("x", "y", "x", "z")),
			testCol(t, "maybe", "LowCardinality(Nullable(String))", &nullableData{
				nulls: []bool{false, true, false, true},
				inner: strVec("x", "", "y", ""),
			}),
		},
	}
	decoded := roundTripBlock(t, b)
	for i := range b.columns {
		assertDeepEqualE(t, decoded.columns[i], b.columns[i], b.columns[i].Name)
	}
}

func TestColumnRowCountMismatch(t *testing.T) {
	w := &writer{}
	// Declares 3 rows but carries data for 2.
	w.uvarint(1)
	w.uvarint(3)
	w.str("v")
	w.str("Int64")
	w.uint64(1)
	w.uint64(2)
	_, err := readBlock(newReader(bytes.NewReader(w.buf)), false)
	assertNotNilF(t, err)
}

func TestColumnAppendAcrossBlocks(t *testing.T) {
	first := testCol(t, "v", "Array(Int64)", &arrayData{offsets: []uint64{2}, elem: int64Vec(1, 2)})
	second := testCol(t, "v", "Array(Int64)", &arrayData{offsets: []uint64{1}, elem: int64Vec(3)})
	assertNilF(t, first.appendColumn(&second))
	assertEqualF(t, first.Rows(), 2)
	assertDeepEqualE(t, first.Value(1), []any{int64(3)})

	typed := testCol(t, "v", "Array(String)", &arrayData{offsets: []uint64{0}, elem: strVec()})
	err := first.appendColumn(&typed)
	assertNotNilE(t, err, "appending a column of a different type must fail")
}
