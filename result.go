package polarhouse

// Result is the materialized outcome of one query: an ordered set of
// equal-length columns. A Result is immutable once produced and safe to
// share across goroutines.
type Result struct {
	columns []Column
	rows    int
}

// NumRows returns the number of rows.
func (r *Result) NumRows() int {
	return r.rows
}

// NumColumns returns the number of top-level columns.
func (r *Result) NumColumns() int {
	return len(r.columns)
}

// Columns returns the columns in result order.
func (r *Result) Columns() []Column {
	return r.columns
}

// Column returns the column with the given top-level name.
func (r *Result) Column(name string) (*Column, bool) {
	for i := range r.columns {
		if r.columns[i].Name == name {
			return &r.columns[i], true
		}
	}
	return nil, false
}

// mergeBlocks concatenates streamed blocks into one flat column set. The
// first block carries the schema even when it has no rows; subsequent
// blocks are matched to it by column name, in arrival order.
func mergeBlocks(blocks []*block) ([]Column, int, error) {
	if len(blocks) == 0 {
		return nil, 0, nil
	}
	columns := blocks[0].columns
	index := make(map[string]int, len(columns))
	for i := range columns {
		index[columns[i].Name] = i
	}
	for _, b := range blocks[1:] {
		if b.rows == 0 {
			continue
		}
		for i := range b.columns {
			j, ok := index[b.columns[i].Name]
			if !ok {
				return nil, 0, decodeError(ErrCodeMalformedBlock, nil,
					"column %s is not part of the result schema", b.columns[i].Name)
			}
			if err := columns[j].appendColumn(&b.columns[i]); err != nil {
				return nil, 0, err
			}
		}
	}
	rows := 0
	for i := range columns {
		n := columns[i].Rows()
		if i == 0 {
			rows = n
		} else if n != rows {
			return nil, 0, decodeError(ErrCodeMismatchingLengths, nil,
				"columns have mismatching lengths (%s has %d rows, expected %d)",
				columns[i].Name, n, rows)
		}
	}
	return columns, rows, nil
}
