package pivot

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Record is an in-memory representation of a single related-table row.
// It carries the row's identity, its loaded column values, and an
// immutable baseline snapshot of those values taken at hydration time.
// Dirty detection diffs current values against the baseline, column by
// column; no global tracking flags are involved.
//
// A Record is not safe for concurrent mutation.
type Record struct {
	label    string
	id       int64
	settable []string
	values   map[string]any
	baseline map[string]any
}

func newRecord(label string, id int64, values map[string]any, settable []string) *Record {
	return &Record{
		label:    label,
		id:       id,
		settable: settable,
		values:   values,
		baseline: copyValues(values),
	}
}

// ID returns the record's assigned identity: the related table's own
// primary key, as resolved through the designated identity alias.
func (r *Record) ID() int64 {
	return r.id
}

// Table returns the related table name the record was hydrated from.
func (r *Record) Table() string {
	return r.label
}

// Get returns the loaded value of the given column.
func (r *Record) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Columns returns the names of all loaded columns, excluding identity.
func (r *Record) Columns() []string {
	cols := make([]string, 0, len(r.values))
	for c := range r.values {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// Set updates the given column's in-memory value. Only the related
// table's declared value columns are settable; identity and the
// timestamp/soft-delete markers are not.
func (r *Record) Set(column string, v any) error {
	if !slices.Contains(r.settable, column) {
		return fmt.Errorf("pivot: column %q of %s is not settable", column, r.label)
	}
	r.values[column] = normalizeValue(v)
	return nil
}

// Dirty reports whether any current value differs from the baseline
// snapshot. Setting a column back to its baseline value clears it.
func (r *Record) Dirty() bool {
	return len(r.DirtyColumns()) > 0
}

// DirtyColumns returns the columns whose current value differs from the
// baseline, in sorted order.
func (r *Record) DirtyColumns() []string {
	var dirty []string
	for c, v := range r.values {
		if !equalValue(v, r.baseline[c]) {
			dirty = append(dirty, c)
		}
	}
	slices.Sort(dirty)
	return dirty
}

// syncBaseline re-snapshots current values, clearing dirty state.
// Called after a successful save.
func (r *Record) syncBaseline() {
	r.baseline = copyValues(r.values)
}

// reset overwrites the record's state with freshly hydrated state.
// Called by refresh; identity never changes.
func (r *Record) reset(fresh *Record) {
	r.values = fresh.values
	r.baseline = fresh.baseline
}

// clone returns an independent copy with its own value and baseline maps.
func (r *Record) clone() *Record {
	return &Record{
		label:    r.label,
		id:       r.id,
		settable: r.settable,
		values:   copyValues(r.values),
		baseline: copyValues(r.baseline),
	}
}

func copyValues(values map[string]any) map[string]any {
	cp := make(map[string]any, len(values))
	for c, v := range values {
		if b, ok := v.([]byte); ok {
			v = bytes.Clone(b)
		}
		cp[c] = v
	}
	return cp
}

// normalizeValue widens driver- and codec-specific scalar types to the
// canonical set the diffing logic compares: int64, float64, bool, string,
// []byte, time.Time, and nil.
func normalizeValue(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

// equalValue compares two normalized values.
func equalValue(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

// coerceID resolves the scanned identity value to int64. Drivers disagree
// on the wire type of integer keys, so numeric strings and byte slices
// are accepted as well.
func coerceID(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("pivot: unsupported identity type %T", v)
	}
}
