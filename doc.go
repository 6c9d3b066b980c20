// Package pivot loads many-to-many relationships through a join (pivot)
// table, in either eager or streaming mode, and hydrates the result rows
// into records with correct identity and dirty tracking.
//
// The association is declared once as metadata:
//
//	rel := pivot.M2M{
//	    Owner:         schema.Table{Name: "users"},
//	    Related:       schema.Table{Name: "things", Columns: []schema.Column{{Name: "title"}}},
//	    Join:          schema.Table{Name: "user_things"},
//	    OwnerColumn:   "user_id",
//	    RelatedColumn: "thing_id",
//	}
//	loader, err := pivot.NewLoader(drv, rel)
//
// and then fetched eagerly:
//
//	recs, err := loader.All(ctx, ownerID)
//
// or as a forward-only stream over an open cursor:
//
//	st, err := loader.Stream(ctx, ownerID)
//	defer st.Close()
//	for st.Next() {
//	    rec := st.Record()
//	}
//	err = st.Err()
//
// Both modes share one column-selection contract: only the related
// table's columns are projected, table-qualified and aliased, and record
// identity is read exclusively through the related primary key's alias.
// A join-table key that numerically collides with a related key can
// therefore never be hydrated as a record's identity.
//
// Hydrated records track mutations against a baseline snapshot taken at
// load time. Save writes only the dirty columns back, keyed strictly by
// the record's assigned identity, and Refresh re-reads that identity;
// both fail with *NotFoundError when the row does not exist.
package pivot
