package pivot

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/pivot/dialect"
	sqldialect "github.com/syssam/pivot/dialect/sql"
)

// Loader executes the owner -> join -> related fetch for a single M2M
// association, in either eager or streaming mode, and owns the write-back
// operations on hydrated records.
//
// Both fetch modes build their projection through one shared contract:
// only the related table's columns are selected, each table-qualified and
// aliased. The join table contributes the filter and the join condition
// but no projected columns, so its primary key cannot shadow the related
// identity no matter how the driver reports column names.
type Loader struct {
	drv      dialect.Driver
	rel      M2M
	plan     *aliasPlan
	sb       sq.StatementBuilderType
	cache    Cache
	cacheTTL time.Duration
	sf       singleflight.Group
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache caches eager load results in c with the given TTL, encoded
// with msgpack. Streaming loads never touch the cache. Entries for the
// association are invalidated on Save, Attach, and Detach.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(l *Loader) {
		l.cache = c
		l.cacheTTL = ttl
	}
}

// NewLoader validates the association descriptor, freezes its column
// alias plan, and returns a loader bound to the driver.
func NewLoader(drv dialect.Driver, rel M2M, opts ...Option) (*Loader, error) {
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	plan, err := rel.plan()
	if err != nil {
		return nil, err
	}
	sb := sq.StatementBuilder
	if drv.Dialect() == dialect.Postgres {
		sb = sb.PlaceholderFormat(sq.Dollar)
	}
	l := &Loader{drv: drv, rel: rel, plan: plan, sb: sb}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// selectRelated is the single projection builder both fetch modes share.
func (l *Loader) selectRelated() sq.SelectBuilder {
	related, join := l.rel.Related, l.rel.Join
	q := l.sb.Select(l.plan.selects...).
		From(join.Name).
		Join(fmt.Sprintf(
			"%s ON %s = %s",
			related.Name, join.C(l.rel.RelatedColumn), related.C(related.IDColumn()),
		)).
		OrderBy(related.C(related.IDColumn()))
	if related.DeletedAt != "" {
		q = q.Where(related.C(related.DeletedAt) + " IS NULL")
	}
	return q
}

// All loads every related record for the given owner key in one round
// trip, draining and releasing its cursor before returning. An unknown
// owner key yields an empty slice, not an error.
func (l *Loader) All(ctx context.Context, ownerKey int64) ([]*Record, error) {
	if l.cache == nil {
		return l.queryAll(ctx, ownerKey)
	}
	key := l.cacheKey(ownerKey)
	v, err, _ := l.sf.Do(key, func() (any, error) {
		if data, err := l.cache.Get(ctx, key); err == nil && data != nil {
			if recs, err := decodeRecords(l.rel.Related.Name, l.rel.settable(), data); err == nil {
				return recs, nil
			}
			// Undecodable entry: drop it and fall through to the query.
			_ = l.cache.Delete(ctx, key)
		}
		recs, err := l.queryAll(ctx, ownerKey)
		if err != nil {
			return nil, err
		}
		if data, err := encodeRecords(recs); err == nil {
			_ = l.cache.Set(ctx, key, data, l.cacheTTL)
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	// Shared results must not leak: each caller gets its own copies so
	// mutations cannot reach the cached baselines.
	shared := v.([]*Record)
	recs := make([]*Record, len(shared))
	for i, r := range shared {
		recs[i] = r.clone()
	}
	return recs, nil
}

func (l *Loader) queryAll(ctx context.Context, ownerKey int64) ([]*Record, error) {
	st, err := l.stream(ctx, ownerKey, "all")
	if err != nil {
		return nil, err
	}
	defer st.Close()
	recs := make([]*Record, 0)
	for st.Next() {
		recs = append(recs, st.Record())
	}
	if err := st.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Stream opens a forward-only cursor over the related records for the
// given owner key. The caller owns the returned stream and must close
// it; see Stream. An unknown owner key yields an empty stream.
func (l *Loader) Stream(ctx context.Context, ownerKey int64) (*Stream, error) {
	return l.stream(ctx, ownerKey, "stream")
}

func (l *Loader) stream(ctx context.Context, ownerKey int64, op string) (*Stream, error) {
	query, args, err := l.selectRelated().
		Where(sq.Eq{l.rel.Join.C(l.rel.OwnerColumn): ownerKey}).
		ToSql()
	if err != nil {
		return nil, NewQueryError(l.rel.Related.Name, op, err)
	}
	var rows sqldialect.Rows
	if err := l.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, NewQueryError(l.rel.Related.Name, op, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, NewQueryError(l.rel.Related.Name, op, err)
	}
	return &Stream{loader: l, rows: rows, cols: cols}, nil
}

// hydrate maps one raw result row to a Record. Identity is read only
// through the plan's designated alias; any column outside the plan is a
// hard error rather than a guess.
func (l *Loader) hydrate(cols []string, scan func(dest ...any) error) (*Record, error) {
	raw := make([]any, len(cols))
	dests := make([]any, len(cols))
	for i := range raw {
		dests[i] = &raw[i]
	}
	if err := scan(dests...); err != nil {
		return nil, NewQueryError(l.rel.Related.Name, "scan", err)
	}
	var (
		id     int64
		idSeen bool
		values = make(map[string]any, len(cols))
	)
	for i, alias := range cols {
		if alias == l.plan.idAlias {
			v, err := coerceID(raw[i])
			if err != nil {
				return nil, NewQueryError(l.rel.Related.Name, "scan", err)
			}
			id, idSeen = v, true
			continue
		}
		col, ok := l.plan.fields[alias]
		if !ok {
			return nil, NewQueryError(l.rel.Related.Name, "scan",
				fmt.Errorf("result column %q is not in the alias plan", alias))
		}
		values[col] = normalizeValue(raw[i])
	}
	if !idSeen {
		return nil, NewQueryError(l.rel.Related.Name, "scan",
			fmt.Errorf("identity alias %q missing from result set", l.plan.idAlias))
	}
	return newRecord(l.rel.Related.Name, id, values, l.rel.settable()), nil
}

// Save persists the record's dirty columns to the related table, keyed
// by the record's assigned identity. Saving a clean record is a no-op.
// It fails with *NotFoundError when no row carries that identity, and
// with ConstraintError when the update violates a declared constraint.
// On success the record's baseline is re-snapshotted.
func (l *Loader) Save(ctx context.Context, rec *Record) error {
	related := l.rel.Related
	dirty := rec.DirtyColumns()
	if len(dirty) == 0 {
		return nil
	}
	upd := l.sb.Update(related.Name)
	for _, col := range dirty {
		v, _ := rec.Get(col)
		upd = upd.Set(col, v)
	}
	var now time.Time
	if ua := related.UpdatedAt; ua != "" {
		now = time.Now().UTC()
		upd = upd.Set(ua, now)
	}
	upd = upd.Where(sq.Eq{related.IDColumn(): rec.ID()})
	if related.DeletedAt != "" {
		upd = upd.Where(sq.Eq{related.DeletedAt: nil})
	}
	query, args, err := upd.ToSql()
	if err != nil {
		return NewMutationError(related.Name, "save", err)
	}
	var res sqldialect.Result
	if err := l.drv.Exec(ctx, query, args, &res); err != nil {
		if sqldialect.IsConstraintError(err) {
			return NewConstraintError(err.Error(), err)
		}
		return NewMutationError(related.Name, "save", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return NewMutationError(related.Name, "save", err)
	}
	if affected == 0 {
		return NewNotFoundErrorWithID(related.Name, rec.ID())
	}
	if ua := related.UpdatedAt; ua != "" {
		rec.values[ua] = now
	}
	rec.syncBaseline()
	l.invalidate(ctx)
	return nil
}

// Refresh re-reads the row with the record's assigned identity from the
// related table, overwriting in-memory values and baseline. It fails
// with *NotFoundError when no such row exists, which is exactly how a
// record hydrated with a corrupted identity surfaces.
func (l *Loader) Refresh(ctx context.Context, rec *Record) error {
	related := l.rel.Related
	q := l.sb.Select(l.plan.selects...).
		From(related.Name).
		Where(sq.Eq{related.C(related.IDColumn()): rec.ID()})
	if related.DeletedAt != "" {
		q = q.Where(related.C(related.DeletedAt) + " IS NULL")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return NewQueryError(related.Name, "refresh", err)
	}
	var rows sqldialect.Rows
	if err := l.drv.Query(ctx, query, args, &rows); err != nil {
		return NewQueryError(related.Name, "refresh", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return NewQueryError(related.Name, "refresh", err)
		}
		return NewNotFoundErrorWithID(related.Name, rec.ID())
	}
	cols, err := rows.Columns()
	if err != nil {
		return NewQueryError(related.Name, "refresh", err)
	}
	fresh, err := l.hydrate(cols, rows.Scan)
	if err != nil {
		return err
	}
	rec.reset(fresh)
	return nil
}

// Attach inserts a join-table row linking the owner and related keys.
// Violating the join table's uniqueness or either foreign key surfaces
// synchronously as ConstraintError.
func (l *Loader) Attach(ctx context.Context, ownerKey, relatedKey int64) error {
	query, args, err := l.sb.Insert(l.rel.Join.Name).
		Columns(l.rel.OwnerColumn, l.rel.RelatedColumn).
		Values(ownerKey, relatedKey).
		ToSql()
	if err != nil {
		return NewMutationError(l.rel.Join.Name, "attach", err)
	}
	if err := l.drv.Exec(ctx, query, args, nil); err != nil {
		if sqldialect.IsConstraintError(err) {
			return NewConstraintError(err.Error(), err)
		}
		return NewMutationError(l.rel.Join.Name, "attach", err)
	}
	l.invalidate(ctx)
	return nil
}

// Detach deletes the join-table row linking the owner and related keys.
// Detaching an absent link is a no-op.
func (l *Loader) Detach(ctx context.Context, ownerKey, relatedKey int64) error {
	query, args, err := l.sb.Delete(l.rel.Join.Name).
		Where(sq.Eq{l.rel.OwnerColumn: ownerKey}).
		Where(sq.Eq{l.rel.RelatedColumn: relatedKey}).
		ToSql()
	if err != nil {
		return NewMutationError(l.rel.Join.Name, "detach", err)
	}
	if err := l.drv.Exec(ctx, query, args, nil); err != nil {
		return NewMutationError(l.rel.Join.Name, "detach", err)
	}
	l.invalidate(ctx)
	return nil
}

func (l *Loader) cacheKey(ownerKey int64) string {
	return CacheKey{
		Join:    l.rel.Join.Name,
		Related: l.rel.Related.Name,
		Owner:   ownerKey,
	}.String()
}

func (l *Loader) invalidate(ctx context.Context) {
	if l.cache == nil {
		return
	}
	prefix := CacheKey{Join: l.rel.Join.Name, Related: l.rel.Related.Name}.Prefix()
	_ = l.cache.DeletePrefix(ctx, prefix)
}
