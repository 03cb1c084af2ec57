package polarhouse

import "strings"

// Unflatten groups dotted-path columns into struct columns:
//
//	col1.field1, col1.field2  ->  col1{field1, field2}
//
// recursing for deeper paths, so address.city.zip becomes
// address{city{zip}}. Columns without a dot pass through unchanged and the
// position of a struct column is the position of its first member. The
// underlying value buffers are shared with the input, not copied.
func Unflatten(columns []Column) []Column {
	type marker struct {
		prefix string // empty for leaf columns
		leaf   int
	}
	var order []marker
	groups := make(map[string][]Column)
	for i := range columns {
		name := columns[i].Name
		dot := strings.IndexByte(name, '.')
		if dot < 0 {
			order = append(order, marker{leaf: i})
			continue
		}
		prefix := name[:dot]
		if _, seen := groups[prefix]; !seen {
			order = append(order, marker{prefix: prefix})
		}
		member := columns[i]
		member.Name = name[dot+1:]
		groups[prefix] = append(groups[prefix], member)
	}
	out := make([]Column, 0, len(order))
	for _, m := range order {
		if m.prefix == "" {
			out = append(out, columns[m.leaf])
			continue
		}
		fields := Unflatten(groups[m.prefix])
		t := &ColumnType{Kind: TypeStruct, Fields: make([]StructField, len(fields))}
		for i := range fields {
			t.Fields[i] = StructField{Name: fields[i].Name, Type: fields[i].Type}
		}
		out = append(out, Column{
			Name: m.prefix,
			Type: t,
			data: &structData{fields: fields},
		})
	}
	return out
}

// Flatten is the inverse of Unflatten: struct columns expand into their
// leaves with dotted names, depth first. For any column set,
// Flatten(Unflatten(cols)) reproduces cols and no values are gained or
// lost in either direction.
func Flatten(columns []Column) []Column {
	out := make([]Column, 0, len(columns))
	for i := range columns {
		fields := columns[i].Fields()
		if fields == nil {
			out = append(out, columns[i])
			continue
		}
		for _, leaf := range Flatten(fields) {
			leaf.Name = columns[i].Name + "." + leaf.Name
			out = append(out, leaf)
		}
	}
	return out
}

// countLeafColumns counts non-struct columns reachable through nesting.
func countLeafColumns(columns []Column) int {
	n := 0
	for i := range columns {
		if fields := columns[i].Fields(); fields != nil {
			n += countLeafColumns(fields)
		} else {
			n++
		}
	}
	return n
}
