package pivot

import (
	"fmt"

	"github.com/syssam/pivot/schema"
)

// M2M describes a many-to-many association between an owner table and a
// related table through a join (pivot) table. The join table carries its
// own primary key, distinct from both sides, plus one foreign-key column
// per side.
//
// The descriptor is pure metadata; it holds no connection or cursor state
// and can be shared freely between loaders.
type M2M struct {
	// Owner is the table on whose key loads are issued.
	Owner schema.Table
	// Related is the table whose records are loaded and hydrated.
	Related schema.Table
	// Join is the pivot table linking the two.
	Join schema.Table
	// OwnerColumn is the Join column referencing Owner's primary key.
	OwnerColumn string
	// RelatedColumn is the Join column referencing Related's primary key.
	RelatedColumn string
}

// aliasPlan is the explicit mapping from the related table's columns to
// result-set aliases. Every projected column is table-qualified and
// aliased at query-build time, and hydration resolves columns only
// through this mapping. Identity in particular is read exclusively
// through idAlias, so a join-table key sharing the same unqualified name
// can never leak into a hydrated record.
type aliasPlan struct {
	idAlias string
	selects []string          // "related.col AS alias" expressions, id first
	fields  map[string]string // result alias -> related column (id excluded)
}

// Validate checks the association descriptor. It is called once by
// NewLoader; descriptors failing validation never reach query building.
func (r M2M) Validate() error {
	for _, t := range []schema.Table{r.Owner, r.Related, r.Join} {
		if err := t.Validate(); err != nil {
			return NewValidationError(t.Name, err)
		}
	}
	if r.Owner.Name == r.Join.Name || r.Related.Name == r.Join.Name {
		return NewValidationError(r.Join.Name, fmt.Errorf("join table must be distinct from both sides"))
	}
	for _, col := range []string{r.OwnerColumn, r.RelatedColumn} {
		if !schema.ValidColumn(col) {
			return NewValidationError(r.Join.Name, fmt.Errorf("invalid foreign-key column %q", col))
		}
	}
	if r.OwnerColumn == r.RelatedColumn {
		return NewValidationError(r.Join.Name, fmt.Errorf("owner and related foreign keys both named %q", r.OwnerColumn))
	}
	if _, err := r.plan(); err != nil {
		return err
	}
	return nil
}

// Aliases returns the column-to-alias mapping used for the related table,
// including its primary key. The mapping is deterministic: every column c
// of table t is projected as "t.c AS t_c".
func (r M2M) Aliases() map[string]string {
	aliases := make(map[string]string)
	for _, col := range r.Related.SelectColumns() {
		aliases[col] = r.Related.Name + "_" + col
	}
	return aliases
}

// plan builds the alias plan for the related table. Alias uniqueness is
// re-checked here even though the construction is injective for valid
// descriptors.
func (r M2M) plan() (*aliasPlan, error) {
	p := &aliasPlan{
		idAlias: r.Related.Name + "_" + r.Related.IDColumn(),
		fields:  make(map[string]string),
	}
	seen := make(map[string]struct{})
	for _, col := range r.Related.SelectColumns() {
		alias := r.Related.Name + "_" + col
		if _, ok := seen[alias]; ok {
			return nil, NewValidationError(r.Related.Name, fmt.Errorf("alias collision on %q", alias))
		}
		seen[alias] = struct{}{}
		p.selects = append(p.selects, fmt.Sprintf("%s AS %s", r.Related.C(col), alias))
		if alias != p.idAlias {
			p.fields[alias] = col
		}
	}
	return p, nil
}

// settable returns the columns a hydrated record accepts through Set:
// the related table's declared value columns. Identity and the timestamp
// and soft-delete markers are excluded.
func (r M2M) settable() []string {
	cols := make([]string, 0, len(r.Related.Columns))
	for _, c := range r.Related.Columns {
		cols = append(cols, c.Name)
	}
	return cols
}
