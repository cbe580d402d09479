package postgres

import (
	"reflect"
	"sync"
)

// Columns lists the "db" tags of T in field order. Embedded structs are
// flattened, so a row type embedding fiscal.Extension gets its columns too.
//
//	cols := Columns[sequence.Sequence]()
//	// ["comprobante_type_id", "current_number", "start_number", ...]
func Columns[T any]() []string {
	var zero T
	meta := metadataOf(reflect.TypeOf(zero))
	cols := make([]string, 0, len(meta.fields))
	for _, f := range meta.fields {
		cols = append(cols, f.column)
	}
	return cols
}

// ColumnsExcept is Columns without the named columns.
func ColumnsExcept[T any](skip ...string) []string {
	drop := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		drop[s] = struct{}{}
	}
	all := Columns[T]()
	out := all[:0:0]
	for _, c := range all {
		if _, ok := drop[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

type columnField struct {
	index  []int
	column string
}

type rowMetadata struct {
	fields []columnField
}

var rowCache sync.Map // reflect.Type -> *rowMetadata

func metadataOf(t reflect.Type) *rowMetadata {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := rowCache.Load(t); ok {
		return cached.(*rowMetadata)
	}

	meta := &rowMetadata{}
	if t.Kind() == reflect.Struct {
		collectFields(t, nil, meta)
	}
	rowCache.Store(t, meta)
	return meta
}

func collectFields(t reflect.Type, prefix []int, meta *rowMetadata) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectFields(field.Type, index, meta)
			continue
		}

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		meta.fields = append(meta.fields, columnField{index: index, column: tag})
	}
}

// StructToMap maps each "db" tag of v to its field value, for squirrel SetMap.
func StructToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	meta := metadataOf(rv.Type())
	res := make(map[string]any, len(meta.fields))
	for _, f := range meta.fields {
		res[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return res
}
