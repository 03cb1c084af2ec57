package polarhouse

import (
	"testing"
)

func mustType(t *testing.T, descriptor string) *ColumnType {
	ct, err := ParseColumnType(descriptor)
	assertNilF(t, err, "parsing "+descriptor)
	return ct
}

func testCol(t *testing.T, name, descriptor string, data columnData) Column {
	return Column{Name: name, Type: mustType(t, descriptor), data: data}
}

func strVec(vals ...string) *vec[string] {
	return &vec[string]{vals: vals}
}

func int32Vec(vals ...int32) *vec[int32] {
	return &vec[int32]{vals: vals}
}

func int64Vec(vals ...int64) *vec[int64] {
	return &vec[int64]{vals: vals}
}

// superheroBlocks reproduces a nested address.city.* table in the shape the
// server streams it: a zero-row header block with the schema, then one data
// block. Flat, it has exactly 7 columns.
func superheroBlocks(t *testing.T) []*block {
	schema := func() []Column {
		return []Column{
			testCol(t, "name", "String", strVec()),
			testCol(t, "is_rich", "Nullable(Bool)", &nullableData{inner: &vec[bool]{}}),
			testCol(t, "age", "Nullable(Int32)", &nullableData{inner: int32Vec()}),
			testCol(t, "powers", "Array(String)", &arrayData{elem: strVec()}),
			testCol(t, "address.city.city", "String", strVec()),
			testCol(t, "address.city.state", "Nullable(String)", &nullableData{inner: strVec()}),
			testCol(t, "address.country", "String", strVec()),
		}
	}
	data := []Column{
		testCol(t, "name", "String", strVec("Batman", "Superman")),
		testCol(t, "is_rich", "Nullable(Bool)", &nullableData{
			nulls: []bool{false, true},
			inner: &vec[bool]{vals: []bool{true, false}},
		}),
		testCol(t, "age", "Nullable(Int32)", &nullableData{
			nulls: []bool{false, true},
			inner: int32Vec(30, 0),
		}),
		testCol(t, "powers", "Array(String)", &arrayData{
			offsets: []uint64{1, 3},
			elem:    strVec("intelligence", "flying", "vision"),
		}),
		testCol(t, "address.city.city", "String", strVec("Gotham", "New York")),
		testCol(t, "address.city.state", "Nullable(String)", &nullableData{
			nulls: []bool{true, false},
			inner: strVec("", "NY"),
		}),
		testCol(t, "address.country", "String", strVec("USA", "USA")),
	}
	return []*block{
		{columns: schema(), rows: 0},
		{columns: data, rows: 2},
	}
}
