package pivot

import (
	"errors"

	sqldialect "github.com/syssam/pivot/dialect/sql"
)

// Stream is a forward-only, single-pass sequence of hydrated records
// pulled from an open database cursor. It is not restartable and must
// not be advanced from multiple goroutines.
//
// Usage:
//
//	st, err := loader.Stream(ctx, ownerKey)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	for st.Next() {
//	    rec := st.Record()
//	    ...
//	}
//	if err := st.Err(); err != nil {
//	    return err
//	}
type Stream struct {
	loader *Loader
	rows   sqldialect.Rows
	cols   []string
	cur    *Record
	err    error
	closed bool
}

// Next advances the stream to the next record. It returns false when the
// stream is exhausted, closed, or has failed; Err distinguishes the
// cases. The underlying cursor is released as soon as Next returns
// false, whatever the reason.
func (s *Stream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			s.err = NewQueryError(s.loader.rel.Related.Name, "stream", err)
		}
		_ = s.Close()
		return false
	}
	rec, err := s.loader.hydrate(s.cols, s.rows.Scan)
	if err != nil {
		s.err = err
		_ = s.Close()
		return false
	}
	s.cur = rec
	return true
}

// Record returns the record produced by the last successful Next.
func (s *Stream) Record() *Record {
	return s.cur
}

// Err returns the first failure encountered while streaming, or nil.
// A mid-stream connection failure surfaces here; it is never folded
// into a silently truncated sequence.
func (s *Stream) Err() error {
	if s.err != nil && !errors.Is(s.err, ErrStreamClosed) {
		return s.err
	}
	return nil
}

// Close releases the underlying cursor. It is safe to call multiple
// times and after exhaustion; abandoning a stream early without closing
// it leaks the cursor.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rows.Close()
}
