package pivot_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/pivot"
	"github.com/syssam/pivot/dialect"
	sqldialect "github.com/syssam/pivot/dialect/sql"
)

const loadQuery = "SELECT things.id AS things_id, things.title AS things_title " +
	"FROM user_things " +
	"JOIN things ON user_things.thing_id = things.id " +
	"WHERE user_things.user_id = ? " +
	"ORDER BY things.id"

const refreshQuery = "SELECT things.id AS things_id, things.title AS things_title " +
	"FROM things WHERE things.id = ?"

// newMockLoader returns a loader over a sqlmock connection with exact
// statement matching, so the tests pin the full column-aliasing contract.
func newMockLoader(t *testing.T, opts ...pivot.Option) (*pivot.Loader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	loader, err := pivot.NewLoader(sqldialect.OpenDB(dialect.SQLite, db), testRel(), opts...)
	require.NoError(t, err)
	return loader, mock
}

func thingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"things_id", "things_title"})
}

func TestNewLoaderValidates(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rel := testRel()
	rel.OwnerColumn = "no spaces allowed "
	_, err = pivot.NewLoader(sqldialect.OpenDB(dialect.SQLite, db), rel)
	require.Error(t, err)
	assert.True(t, pivot.IsValidationError(err))
}

func TestStream(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectQuery(loadQuery).
		WithArgs(1000).
		WillReturnRows(thingRows().
			AddRow(3000, "Thing 3000").
			AddRow(4000, "Thing 4000"))

	st, err := loader.Stream(context.Background(), 1000)
	require.NoError(t, err)
	defer st.Close()

	var ids []int64
	var titles []string
	for st.Next() {
		rec := st.Record()
		ids = append(ids, rec.ID())
		title, _ := rec.Get("title")
		titles = append(titles, title.(string))
		assert.False(t, rec.Dirty())
	}
	require.NoError(t, st.Err())
	assert.Equal(t, []int64{3000, 4000}, ids)
	assert.Equal(t, []string{"Thing 3000", "Thing 4000"}, titles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamEmpty(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectQuery(loadQuery).WithArgs(7).WillReturnRows(thingRows())

	st, err := loader.Stream(context.Background(), 7)
	require.NoError(t, err)
	defer st.Close()

	assert.False(t, st.Next())
	require.NoError(t, st.Err())
}

// A connection failure in the middle of iteration surfaces from Err as a
// query error; the sequence is never silently truncated.
func TestStreamMidIterationFailure(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectQuery(loadQuery).
		WithArgs(1000).
		WillReturnRows(thingRows().
			AddRow(3000, "Thing 3000").
			AddRow(4000, "Thing 4000").
			RowError(1, io.ErrUnexpectedEOF))

	st, err := loader.Stream(context.Background(), 1000)
	require.NoError(t, err)
	defer st.Close()

	require.True(t, st.Next())
	assert.Equal(t, int64(3000), st.Record().ID())

	assert.False(t, st.Next())
	err = st.Err()
	require.Error(t, err)
	assert.True(t, pivot.IsQueryError(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, pivot.IsNotFound(err))
}

func TestStreamQueryFailure(t *testing.T) {
	loader, mock := newMockLoader(t)
	boom := errors.New("connection refused")
	mock.ExpectQuery(loadQuery).WithArgs(1000).WillReturnError(boom)

	_, err := loader.Stream(context.Background(), 1000)
	require.Error(t, err)
	assert.True(t, pivot.IsQueryError(err))
	assert.True(t, errors.Is(err, boom))
}

// A result column outside the alias plan is a hard error, not a guess.
// This is the regression guard for pivot keys leaking into hydration.
func TestStreamRejectsUnplannedColumn(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectQuery(loadQuery).
		WithArgs(1000).
		WillReturnRows(sqlmock.NewRows([]string{"things_id", "things_title", "id"}).
			AddRow(3000, "Thing 3000", 2000))

	st, err := loader.Stream(context.Background(), 1000)
	require.NoError(t, err)
	defer st.Close()

	assert.False(t, st.Next())
	require.Error(t, st.Err())
	assert.Contains(t, st.Err().Error(), "alias plan")
}

func TestStreamMissingIdentityAlias(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectQuery(loadQuery).
		WithArgs(1000).
		WillReturnRows(sqlmock.NewRows([]string{"things_title"}).AddRow("Thing 3000"))

	st, err := loader.Stream(context.Background(), 1000)
	require.NoError(t, err)
	defer st.Close()

	assert.False(t, st.Next())
	require.Error(t, st.Err())
	assert.Contains(t, st.Err().Error(), "identity alias")
}

func TestStreamCloseIdempotent(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectQuery(loadQuery).WithArgs(1000).WillReturnRows(thingRows().AddRow(3000, "Thing 3000"))

	st, err := loader.Stream(context.Background(), 1000)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.False(t, st.Next())
	require.NoError(t, st.Err())
}

func TestAll(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectQuery(loadQuery).
		WithArgs(1000).
		WillReturnRows(thingRows().
			AddRow(3000, "Thing 3000").
			AddRow(4000, "Thing 4000"))

	recs, err := loader.All(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(3000), recs[0].ID())
	assert.Equal(t, int64(4000), recs[1].ID())
	require.NoError(t, mock.ExpectationsWereMet())
}

// An unknown owner key yields an empty, non-nil slice.
func TestAllEmpty(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectQuery(loadQuery).WithArgs(42).WillReturnRows(thingRows())

	recs, err := loader.All(context.Background(), 42)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestSave(t *testing.T) {
	loader, mock := newMockLoader(t)
	rec := forgedThing(3000, "Thing 3000")
	require.NoError(t, rec.Set("title", "Thing 3000 (edited)"))

	mock.ExpectExec("UPDATE things SET title = ? WHERE id = ?").
		WithArgs("Thing 3000 (edited)", 3000).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, loader.Save(context.Background(), rec))
	assert.False(t, rec.Dirty(), "baseline re-snapshots on save")
	require.NoError(t, mock.ExpectationsWereMet())
}

// Saving a clean record issues no statement at all.
func TestSaveClean(t *testing.T) {
	loader, mock := newMockLoader(t)
	rec := forgedThing(3000, "Thing 3000")

	require.NoError(t, loader.Save(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveNotFound(t *testing.T) {
	loader, mock := newMockLoader(t)
	rec := forgedThing(5000, "phantom")
	require.NoError(t, rec.Set("title", "renamed"))

	mock.ExpectExec("UPDATE things SET title = ? WHERE id = ?").
		WithArgs("renamed", 5000).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := loader.Save(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, pivot.IsNotFound(err))
	assert.Contains(t, err.Error(), "5000")
	assert.True(t, rec.Dirty(), "failed save keeps the record dirty")
}

func TestSaveConstraintViolation(t *testing.T) {
	loader, mock := newMockLoader(t)
	rec := forgedThing(3000, "Thing 3000")
	require.NoError(t, rec.Set("title", "Thing 4000"))

	mock.ExpectExec("UPDATE things SET title = ? WHERE id = ?").
		WithArgs("Thing 4000", 3000).
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: things.title (2067)"))

	err := loader.Save(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, pivot.IsConstraintError(err))
	assert.False(t, pivot.IsNotFound(err))
}

func TestSaveBumpsUpdatedAt(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	rel := testRel()
	rel.Related.UpdatedAt = "updated_at"
	loader, err := pivot.NewLoader(sqldialect.OpenDB(dialect.SQLite, db), rel)
	require.NoError(t, err)

	rec := forgedThing(3000, "Thing 3000")
	require.NoError(t, rec.Set("title", "renamed"))

	mock.ExpectExec("UPDATE things SET title = ?, updated_at = ? WHERE id = ?").
		WithArgs("renamed", sqlmock.AnyArg(), 3000).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, loader.Save(context.Background(), rec))
	updated, ok := rec.Get("updated_at")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC(), updated.(time.Time), time.Minute)
}

func TestRefresh(t *testing.T) {
	loader, mock := newMockLoader(t)
	rec := forgedThing(3000, "stale title")
	require.NoError(t, rec.Set("title", "local edit"))

	mock.ExpectQuery(refreshQuery).
		WithArgs(3000).
		WillReturnRows(thingRows().AddRow(3000, "Thing 3000"))

	require.NoError(t, loader.Refresh(context.Background(), rec))
	title, _ := rec.Get("title")
	assert.Equal(t, "Thing 3000", title)
	assert.False(t, rec.Dirty(), "refresh discards local edits")
	assert.Equal(t, int64(3000), rec.ID())
}

// Refreshing a record whose identity does not exist in the related table
// fails loudly. A record hydrated with a colliding pivot key surfaces here.
func TestRefreshNotFound(t *testing.T) {
	loader, mock := newMockLoader(t)
	rec := forgedThing(5000, "phantom")

	mock.ExpectQuery(refreshQuery).WithArgs(5000).WillReturnRows(thingRows())

	err := loader.Refresh(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, pivot.IsNotFound(err))
	assert.Contains(t, err.Error(), "5000")
}

func TestAttach(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectExec("INSERT INTO user_things (user_id,thing_id) VALUES (?,?)").
		WithArgs(1000, 2000).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, loader.Attach(context.Background(), 1000, 2000))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachConstraintViolation(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectExec("INSERT INTO user_things (user_id,thing_id) VALUES (?,?)").
		WithArgs(1000, 9999).
		WillReturnError(errors.New("constraint failed: FOREIGN KEY constraint failed (787)"))

	err := loader.Attach(context.Background(), 1000, 9999)
	require.Error(t, err)
	assert.True(t, pivot.IsConstraintError(err))
}

func TestDetach(t *testing.T) {
	loader, mock := newMockLoader(t)
	mock.ExpectExec("DELETE FROM user_things WHERE user_id = ? AND thing_id = ?").
		WithArgs(1000, 3000).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, loader.Detach(context.Background(), 1000, 3000))

	// Detaching an absent link is a no-op, not an error.
	mock.ExpectExec("DELETE FROM user_things WHERE user_id = ? AND thing_id = ?").
		WithArgs(1000, 3000).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, loader.Detach(context.Background(), 1000, 3000))
}

// With a cache configured, the second eager load is served without
// touching the database, and callers get independent copies.
func TestAllCached(t *testing.T) {
	loader, mock := newMockLoader(t, pivot.WithCache(pivot.NewMemory(), time.Minute))
	mock.ExpectQuery(loadQuery).
		WithArgs(1000).
		WillReturnRows(thingRows().AddRow(3000, "Thing 3000"))

	first, err := loader.All(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, first[0].Set("title", "mutated"))

	second, err := loader.All(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, second, 1)
	title, _ := second[0].Get("title")
	assert.Equal(t, "Thing 3000", title, "cached results are isolated from caller mutations")
	assert.Equal(t, int64(3000), second[0].ID())
	assert.False(t, second[0].Dirty())

	// Only the first load hit the database.
	require.NoError(t, mock.ExpectationsWereMet())
}

// Writes invalidate the association's cache entries.
func TestCacheInvalidatedOnSave(t *testing.T) {
	loader, mock := newMockLoader(t, pivot.WithCache(pivot.NewMemory(), time.Minute))

	mock.ExpectQuery(loadQuery).
		WithArgs(1000).
		WillReturnRows(thingRows().AddRow(3000, "Thing 3000"))

	recs, err := loader.All(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, recs[0].Set("title", "renamed"))
	mock.ExpectExec("UPDATE things SET title = ? WHERE id = ?").
		WithArgs("renamed", 3000).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, loader.Save(context.Background(), recs[0]))

	mock.ExpectQuery(loadQuery).
		WithArgs(1000).
		WillReturnRows(thingRows().AddRow(3000, "renamed"))

	fresh, err := loader.All(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	title, _ := fresh[0].Get("title")
	assert.Equal(t, "renamed", title)
	require.NoError(t, mock.ExpectationsWereMet())
}
