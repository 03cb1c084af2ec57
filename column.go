package polarhouse

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Column is a named, typed buffer of values. Every column of one result has
// the same length. Struct columns hold their fields as sub-columns and have
// no wire representation of their own.
type Column struct {
	Name string
	Type *ColumnType
	data columnData
}

// Rows returns the number of values in the column.
func (c *Column) Rows() int {
	return c.data.rows()
}

// Value returns the value at row i. Nullable columns yield nil for null
// rows, arrays yield []any, struct columns yield map[string]any.
func (c *Column) Value(i int) any {
	return c.data.value(i)
}

// Fields returns the sub-columns of a struct column, nil otherwise.
func (c *Column) Fields() []Column {
	if sd, ok := c.data.(*structData); ok {
		return sd.fields
	}
	return nil
}

func (c *Column) appendColumn(other *Column) error {
	if !c.Type.Equal(other.Type) {
		return decodeError(ErrCodeMalformedBlock, nil,
			"column %s changed type between blocks (%s vs %s)", c.Name, c.Type, other.Type)
	}
	c.data.appendData(other.data)
	return nil
}

type columnData interface {
	rows() int
	value(i int) any
	appendData(other columnData)
}

// gatherer is implemented by scalar buffers that can be used as a
// low cardinality dictionary.
type gatherer interface {
	columnData
	take(idx []uint64) columnData
}

type vec[T any] struct {
	vals []T
}

func (v *vec[T]) rows() int { return len(v.vals) }

func (v *vec[T]) value(i int) any { return v.vals[i] }

func (v *vec[T]) appendData(other columnData) {
	v.vals = append(v.vals, other.(*vec[T]).vals...)
}

func (v *vec[T]) take(idx []uint64) columnData {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = v.vals[j]
	}
	return &vec[T]{vals: out}
}

type nullableData struct {
	nulls []bool
	inner columnData
}

func (n *nullableData) rows() int { return len(n.nulls) }

func (n *nullableData) value(i int) any {
	if n.nulls[i] {
		return nil
	}
	return n.inner.value(i)
}

func (n *nullableData) appendData(other columnData) {
	o := other.(*nullableData)
	n.nulls = append(n.nulls, o.nulls...)
	n.inner.appendData(o.inner)
}

// arrayData stores arrays the way the wire does: cumulative end offsets
// plus one flattened element buffer.
type arrayData struct {
	offsets []uint64
	elem    columnData
}

func (a *arrayData) rows() int { return len(a.offsets) }

func (a *arrayData) value(i int) any {
	start := uint64(0)
	if i > 0 {
		start = a.offsets[i-1]
	}
	end := a.offsets[i]
	out := make([]any, 0, end-start)
	for j := start; j < end; j++ {
		out = append(out, a.elem.value(int(j)))
	}
	return out
}

func (a *arrayData) appendData(other columnData) {
	o := other.(*arrayData)
	base := uint64(0)
	if len(a.offsets) > 0 {
		base = a.offsets[len(a.offsets)-1]
	}
	for _, off := range o.offsets {
		a.offsets = append(a.offsets, base+off)
	}
	a.elem.appendData(o.elem)
}

type structData struct {
	fields []Column
}

func (s *structData) rows() int {
	if len(s.fields) == 0 {
		return 0
	}
	return s.fields[0].Rows()
}

func (s *structData) value(i int) any {
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		out[f.Name] = f.Value(i)
	}
	return out
}

func (s *structData) appendData(other columnData) {
	o := other.(*structData)
	for i := range s.fields {
		s.fields[i].data.appendData(o.fields[i].data)
	}
}

func decodeFixed[T any](r *reader, rows int, read func() (T, error)) (columnData, error) {
	vals := make([]T, rows)
	for i := 0; i < rows; i++ {
		v, err := read()
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return &vec[T]{vals: vals}, nil
}

func tzLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// dateTime64Scale[p] converts a DateTime64 tick of precision p to nanoseconds.
var dateTime64Scale = [10]int64{
	1e9, 1e8, 1e7, 1e6, 1e5, 1e4, 1e3, 1e2, 1e1, 1,
}

// decodeData reads exactly rows values of type t from r, recursing for
// nested kinds. A short or malformed stream surfaces as an I/O error that
// the block reader wraps into a decode failure.
func decodeData(r *reader, t *ColumnType, rows int) (columnData, error) {
	switch t.Kind {
	case TypeInt8:
		return decodeFixed(r, rows, func() (int8, error) { v, err := r.uint8(); return int8(v), err })
	case TypeInt16:
		return decodeFixed(r, rows, func() (int16, error) { v, err := r.uint16(); return int16(v), err })
	case TypeInt32:
		return decodeFixed(r, rows, func() (int32, error) { v, err := r.uint32(); return int32(v), err })
	case TypeInt64:
		return decodeFixed(r, rows, func() (int64, error) { v, err := r.uint64(); return int64(v), err })
	case TypeUInt8:
		return decodeFixed(r, rows, r.uint8)
	case TypeUInt16:
		return decodeFixed(r, rows, r.uint16)
	case TypeUInt32:
		return decodeFixed(r, rows, r.uint32)
	case TypeUInt64:
		return decodeFixed(r, rows, r.uint64)
	case TypeFloat32:
		return decodeFixed(r, rows, r.float32)
	case TypeFloat64:
		return decodeFixed(r, rows, r.float64)
	case TypeBool:
		return decodeFixed(r, rows, r.bool)
	case TypeString:
		return decodeFixed(r, rows, r.str)
	case TypeFixedString:
		return decodeFixed(r, rows, func() (string, error) {
			b, err := r.bytes(t.Size)
			return string(b), err
		})
	case TypeUUID:
		return decodeFixed(r, rows, func() (string, error) { return decodeUUID(r) })
	case TypeDate:
		return decodeFixed(r, rows, func() (time.Time, error) {
			days, err := r.uint16()
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(int64(days)*86400, 0).UTC(), nil
		})
	case TypeDateTime:
		loc, err := tzLocation(t.Timezone)
		if err != nil {
			return nil, err
		}
		return decodeFixed(r, rows, func() (time.Time, error) {
			secs, err := r.uint32()
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(int64(secs), 0).In(loc), nil
		})
	case TypeDateTime64:
		loc, err := tzLocation(t.Timezone)
		if err != nil {
			return nil, err
		}
		scale := dateTime64Scale[t.Size]
		return decodeFixed(r, rows, func() (time.Time, error) {
			ticks, err := r.uint64()
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(0, int64(ticks)*scale).In(loc), nil
		})
	case TypeEnum8, TypeEnum16:
		names := make(map[int16]string, len(t.Enum))
		for _, ev := range t.Enum {
			names[ev.Value] = ev.Name
		}
		return decodeFixed(r, rows, func() (string, error) {
			var v int16
			if t.Kind == TypeEnum8 {
				b, err := r.uint8()
				if err != nil {
					return "", err
				}
				v = int16(int8(b))
			} else {
				u, err := r.uint16()
				if err != nil {
					return "", err
				}
				v = int16(u)
			}
			name, ok := names[v]
			if !ok {
				return "", fmt.Errorf("enum value %d has no name in %s", v, t)
			}
			return name, nil
		})
	case TypeNullable:
		nulls := make([]bool, rows)
		for i := range nulls {
			b, err := r.uint8()
			if err != nil {
				return nil, err
			}
			nulls[i] = b != 0
		}
		// The wire carries a value for every row; null positions hold the
		// type's default.
		inner, err := decodeData(r, t.Elem, rows)
		if err != nil {
			return nil, err
		}
		return &nullableData{nulls: nulls, inner: inner}, nil
	case TypeArray:
		offsets := make([]uint64, rows)
		total := uint64(0)
		for i := range offsets {
			off, err := r.uint64()
			if err != nil {
				return nil, err
			}
			if off < total {
				return nil, fmt.Errorf("array offsets not monotonic")
			}
			offsets[i] = off
			total = off
		}
		elem, err := decodeData(r, t.Elem, int(total))
		if err != nil {
			return nil, err
		}
		return &arrayData{offsets: offsets, elem: elem}, nil
	case TypeLowCardinality:
		return decodeLowCardinality(r, t, rows)
	}
	return nil, fmt.Errorf("cannot decode type %s", t)
}

func decodeUUID(r *reader) (string, error) {
	b, err := r.bytes(16)
	if err != nil {
		return "", err
	}
	// The wire stores a UUID as two little-endian 64-bit halves.
	var out uuid.UUID
	for i := 0; i < 8; i++ {
		out[i] = b[7-i]
		out[8+i] = b[15-i]
	}
	return out.String(), nil
}

func encodeUUID(w *writer, s string) error {
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[7-i] = u[i]
		b[15-i] = u[8+i]
	}
	w.bytes(b[:])
	return nil
}

const (
	lcKeysVersion       = 1
	lcHasAdditionalKeys = 1 << 9
)

// Low cardinality columns ship a dictionary plus per-row indices into it.
// The decoded buffer has the element type's shape so downstream code never
// sees the dictionary encoding.
func decodeLowCardinality(r *reader, t *ColumnType, rows int) (columnData, error) {
	version, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if version != lcKeysVersion {
		return nil, fmt.Errorf("unsupported low cardinality version %d", version)
	}
	inner := t.Elem
	nullable := inner.Kind == TypeNullable
	if nullable {
		inner = inner.Elem
	}
	if rows == 0 {
		empty, err := decodeData(r, inner, 0)
		if err != nil {
			return nil, err
		}
		if nullable {
			return &nullableData{inner: empty}, nil
		}
		return empty, nil
	}
	flags, err := r.uint64()
	if err != nil {
		return nil, err
	}
	keyWidth := flags & 0xff
	if keyWidth > 3 {
		return nil, fmt.Errorf("invalid low cardinality key width %d", keyWidth)
	}
	dictSize, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if dictSize > uint64(maxStringLen) {
		return nil, fmt.Errorf("low cardinality dictionary size %d exceeds limit", dictSize)
	}
	dict, err := decodeData(r, inner, int(dictSize))
	if err != nil {
		return nil, err
	}
	keyCount, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if keyCount != uint64(rows) {
		return nil, fmt.Errorf("low cardinality key count %d does not match row count %d", keyCount, rows)
	}
	idx := make([]uint64, rows)
	for i := range idx {
		var v uint64
		switch keyWidth {
		case 0:
			b, err := r.uint8()
			if err != nil {
				return nil, err
			}
			v = uint64(b)
		case 1:
			b, err := r.uint16()
			if err != nil {
				return nil, err
			}
			v = uint64(b)
		case 2:
			b, err := r.uint32()
			if err != nil {
				return nil, err
			}
			v = uint64(b)
		case 3:
			if v, err = r.uint64(); err != nil {
				return nil, err
			}
		}
		if v >= dictSize {
			return nil, fmt.Errorf("low cardinality index %d out of range", v)
		}
		idx[i] = v
	}
	g, ok := dict.(gatherer)
	if !ok {
		return nil, fmt.Errorf("type %s cannot be a low cardinality dictionary", inner)
	}
	gathered := g.take(idx)
	if nullable {
		nulls := make([]bool, rows)
		for i, v := range idx {
			nulls[i] = v == 0
		}
		return &nullableData{nulls: nulls, inner: gathered}, nil
	}
	return gathered, nil
}

func encodeLowCardinality(w *writer, t *ColumnType, d columnData) error {
	w.uint64(lcKeysVersion)
	rows := d.rows()
	if rows == 0 {
		return nil
	}
	inner := t.Elem
	nulls := []bool(nil)
	if nd, ok := d.(*nullableData); ok {
		nulls = nd.nulls
		d = nd.inner
		inner = inner.Elem
	}
	w.uint64(2 | lcHasAdditionalKeys)
	if nulls != nil {
		// Index 0 is the null sentinel, so the dictionary gains a leading
		// default entry and real values shift up by one.
		w.uint64(uint64(rows) + 1)
		if err := encodeData(w, inner, zeroData(inner, 1)); err != nil {
			return err
		}
		if err := encodeData(w, inner, d); err != nil {
			return err
		}
		w.uint64(uint64(rows))
		for i := 0; i < rows; i++ {
			if nulls[i] {
				w.uint32(0)
			} else {
				w.uint32(uint32(i) + 1)
			}
		}
		return nil
	}
	w.uint64(uint64(rows))
	if err := encodeData(w, inner, d); err != nil {
		return err
	}
	w.uint64(uint64(rows))
	for i := 0; i < rows; i++ {
		w.uint32(uint32(i))
	}
	return nil
}

// zeroData builds a zero-valued buffer of type t, used for the low
// cardinality null sentinel.
func zeroData(t *ColumnType, rows int) columnData {
	switch t.Kind {
	case TypeInt8:
		return &vec[int8]{vals: make([]int8, rows)}
	case TypeInt16:
		return &vec[int16]{vals: make([]int16, rows)}
	case TypeInt32:
		return &vec[int32]{vals: make([]int32, rows)}
	case TypeInt64:
		return &vec[int64]{vals: make([]int64, rows)}
	case TypeUInt8:
		return &vec[uint8]{vals: make([]uint8, rows)}
	case TypeUInt16:
		return &vec[uint16]{vals: make([]uint16, rows)}
	case TypeUInt32:
		return &vec[uint32]{vals: make([]uint32, rows)}
	case TypeUInt64:
		return &vec[uint64]{vals: make([]uint64, rows)}
	case TypeFloat32:
		return &vec[float32]{vals: make([]float32, rows)}
	case TypeFloat64:
		return &vec[float64]{vals: make([]float64, rows)}
	case TypeBool:
		return &vec[bool]{vals: make([]bool, rows)}
	case TypeDate, TypeDateTime, TypeDateTime64:
		vals := make([]time.Time, rows)
		for i := range vals {
			vals[i] = time.Unix(0, 0).UTC()
		}
		return &vec[time.Time]{vals: vals}
	case TypeUUID:
		vals := make([]string, rows)
		for i := range vals {
			vals[i] = uuid.Nil.String()
		}
		return &vec[string]{vals: vals}
	case TypeEnum8, TypeEnum16:
		vals := make([]string, rows)
		if len(t.Enum) > 0 {
			for i := range vals {
				vals[i] = t.Enum[0].Name
			}
		}
		return &vec[string]{vals: vals}
	default:
		return &vec[string]{vals: make([]string, rows)}
	}
}

// encodeData is the exact inverse of decodeData; the cache persists results
// through it so a cache hit replays the same bytes a server would send.
func encodeData(w *writer, t *ColumnType, d columnData) error {
	switch t.Kind {
	case TypeInt8:
		for _, v := range d.(*vec[int8]).vals {
			w.uint8(uint8(v))
		}
	case TypeInt16:
		for _, v := range d.(*vec[int16]).vals {
			w.uint16(uint16(v))
		}
	case TypeInt32:
		for _, v := range d.(*vec[int32]).vals {
			w.uint32(uint32(v))
		}
	case TypeInt64:
		for _, v := range d.(*vec[int64]).vals {
			w.uint64(uint64(v))
		}
	case TypeUInt8:
		for _, v := range d.(*vec[uint8]).vals {
			w.uint8(v)
		}
	case TypeUInt16:
		for _, v := range d.(*vec[uint16]).vals {
			w.uint16(v)
		}
	case TypeUInt32:
		for _, v := range d.(*vec[uint32]).vals {
			w.uint32(v)
		}
	case TypeUInt64:
		for _, v := range d.(*vec[uint64]).vals {
			w.uint64(v)
		}
	case TypeFloat32:
		for _, v := range d.(*vec[float32]).vals {
			w.float32(v)
		}
	case TypeFloat64:
		for _, v := range d.(*vec[float64]).vals {
			w.float64(v)
		}
	case TypeBool:
		for _, v := range d.(*vec[bool]).vals {
			w.bool(v)
		}
	case TypeString:
		for _, v := range d.(*vec[string]).vals {
			w.str(v)
		}
	case TypeFixedString:
		for _, v := range d.(*vec[string]).vals {
			if len(v) != t.Size {
				return fmt.Errorf("fixed string value of length %d for %s", len(v), t)
			}
			w.bytes([]byte(v))
		}
	case TypeUUID:
		for _, v := range d.(*vec[string]).vals {
			if err := encodeUUID(w, v); err != nil {
				return err
			}
		}
	case TypeDate:
		for _, v := range d.(*vec[time.Time]).vals {
			w.uint16(uint16(v.Unix() / 86400))
		}
	case TypeDateTime:
		for _, v := range d.(*vec[time.Time]).vals {
			w.uint32(uint32(v.Unix()))
		}
	case TypeDateTime64:
		scale := dateTime64Scale[t.Size]
		for _, v := range d.(*vec[time.Time]).vals {
			w.uint64(uint64(v.UnixNano() / scale))
		}
	case TypeEnum8, TypeEnum16:
		values := make(map[string]int16, len(t.Enum))
		for _, ev := range t.Enum {
			values[ev.Name] = ev.Value
		}
		for _, v := range d.(*vec[string]).vals {
			ev, ok := values[v]
			if !ok {
				return fmt.Errorf("enum name %q has no value in %s", v, t)
			}
			if t.Kind == TypeEnum8 {
				w.uint8(uint8(int8(ev)))
			} else {
				w.uint16(uint16(ev))
			}
		}
	case TypeNullable:
		nd := d.(*nullableData)
		for _, isNull := range nd.nulls {
			w.bool(isNull)
		}
		return encodeData(w, t.Elem, nd.inner)
	case TypeArray:
		ad := d.(*arrayData)
		for _, off := range ad.offsets {
			w.uint64(off)
		}
		return encodeData(w, t.Elem, ad.elem)
	case TypeLowCardinality:
		return encodeLowCardinality(w, t, d)
	default:
		return fmt.Errorf("cannot encode type %s", t)
	}
	return nil
}
