package polarhouse

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
)

// ToArrow converts the result into an Arrow record batch, the in-memory
// form dataframe libraries wrap directly. Struct columns are flattened to
// their dotted-path leaves first, so the record's column set matches the
// flat view of the result. The caller owns the returned record and must
// Release it.
func (r *Result) ToArrow(mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	columns := Flatten(r.columns)
	fields := make([]arrow.Field, len(columns))
	for i := range columns {
		dt, nullable, err := arrowType(columns[i].Type)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: columns[i].Name, Type: dt, Nullable: nullable}
	}
	schema := arrow.NewSchema(fields, nil)
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()
	for i := range columns {
		fb := builder.Field(i)
		for row := 0; row < columns[i].Rows(); row++ {
			if err := arrowAppend(fb, columns[i].Type, columns[i].Value(row)); err != nil {
				return nil, err
			}
		}
	}
	return builder.NewRecord(), nil
}

func arrowType(t *ColumnType) (arrow.DataType, bool, error) {
	switch t.Kind {
	case TypeInt8:
		return arrow.PrimitiveTypes.Int8, false, nil
	case TypeInt16:
		return arrow.PrimitiveTypes.Int16, false, nil
	case TypeInt32:
		return arrow.PrimitiveTypes.Int32, false, nil
	case TypeInt64:
		return arrow.PrimitiveTypes.Int64, false, nil
	case TypeUInt8:
		return arrow.PrimitiveTypes.Uint8, false, nil
	case TypeUInt16:
		return arrow.PrimitiveTypes.Uint16, false, nil
	case TypeUInt32:
		return arrow.PrimitiveTypes.Uint32, false, nil
	case TypeUInt64:
		return arrow.PrimitiveTypes.Uint64, false, nil
	case TypeFloat32:
		return arrow.PrimitiveTypes.Float32, false, nil
	case TypeFloat64:
		return arrow.PrimitiveTypes.Float64, false, nil
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean, false, nil
	case TypeString, TypeFixedString, TypeUUID, TypeEnum8, TypeEnum16:
		return arrow.BinaryTypes.String, false, nil
	case TypeDate:
		return arrow.FixedWidthTypes.Date32, false, nil
	case TypeDateTime, TypeDateTime64:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: t.Timezone}, false, nil
	case TypeNullable:
		dt, _, err := arrowType(t.Elem)
		return dt, true, err
	case TypeLowCardinality:
		return arrowType(t.Elem)
	case TypeArray:
		dt, _, err := arrowType(t.Elem)
		if err != nil {
			return nil, false, err
		}
		return arrow.ListOf(dt), false, nil
	}
	return nil, false, decodeError(ErrCodeUnknownType, nil, "type %s has no arrow representation", t)
}

func arrowAppend(b array.Builder, t *ColumnType, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch fb := b.(type) {
	case *array.Int8Builder:
		fb.Append(v.(int8))
	case *array.Int16Builder:
		fb.Append(v.(int16))
	case *array.Int32Builder:
		fb.Append(v.(int32))
	case *array.Int64Builder:
		fb.Append(v.(int64))
	case *array.Uint8Builder:
		fb.Append(v.(uint8))
	case *array.Uint16Builder:
		fb.Append(v.(uint16))
	case *array.Uint32Builder:
		fb.Append(v.(uint32))
	case *array.Uint64Builder:
		fb.Append(v.(uint64))
	case *array.Float32Builder:
		fb.Append(v.(float32))
	case *array.Float64Builder:
		fb.Append(v.(float64))
	case *array.BooleanBuilder:
		fb.Append(v.(bool))
	case *array.StringBuilder:
		fb.Append(v.(string))
	case *array.Date32Builder:
		fb.Append(arrow.Date32(v.(time.Time).Unix() / 86400))
	case *array.TimestampBuilder:
		fb.Append(arrow.Timestamp(v.(time.Time).UnixMicro()))
	case *array.ListBuilder:
		fb.Append(true)
		elemType := t.Elem
		for elemType.Kind == TypeLowCardinality {
			elemType = elemType.Elem
		}
		for _, item := range v.([]any) {
			if err := arrowAppend(fb.ValueBuilder(), elemType, item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported arrow builder %T for type %s", b, t)
	}
	return nil
}
