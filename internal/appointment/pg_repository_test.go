package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

// recordingQuerier captures Exec calls and fails them with execErr when set.
type recordingQuerier struct {
	execs   []execCall
	execErr error
}

func (q *recordingQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execs = append(q.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("SELECT 1"), q.execErr
}

func (q *recordingQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (q *recordingQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestWithinDateTakesAdvisoryLockFirst(t *testing.T) {
	q := &recordingQuerier{}
	repo := &PgRepository{q: q}
	date := time.Date(2025, 6, 1, 17, 30, 0, 0, time.UTC)

	ran := false
	err := repo.WithinDate(context.Background(), date, func(tx Repository) error {
		ran = true
		require.Len(t, q.execs, 1, "lock is taken before fn runs")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	assert.Contains(t, q.execs[0].sql, "pg_advisory_xact_lock")
	assert.Equal(t, []any{dateLockID(date)}, q.execs[0].args)
}

func TestWithinDateLockFailureSkipsFn(t *testing.T) {
	q := &recordingQuerier{execErr: errors.New("lock timeout")}
	repo := &PgRepository{q: q}

	err := repo.WithinDate(context.Background(), time.Now(), func(Repository) error {
		t.Fatal("fn must not run without the date lock")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock date")
}

func TestDateLockID(t *testing.T) {
	d := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, dateLockID(d), dateLockID(d.Add(23*time.Hour)), "one key per calendar day")
	assert.Equal(t, dateLockID(d)+1, dateLockID(d.AddDate(0, 0, 1)))
	assert.Equal(t, int64(0), dateLockID(time.Unix(0, 0)))
}
