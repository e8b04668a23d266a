package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, cfg Config) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	l := NewPG(mock, cfg)
	l.now = func() time.Time { return fixedNow }
	return l, mock
}

func TestAllow_NoRow_Allows(t *testing.T) {
	l, mock := newLimiter(t, DefaultConfig())
	defer mock.Close()
	mock.ExpectQuery(`SELECT blocked_until FROM login_attempts WHERE email=\$1 AND ip_hash=\$2`).
		WithArgs("u@x.io", []byte("h")).
		WillReturnError(pgx.ErrNoRows)

	ok, dur, err := l.Allow(context.Background(), "U@x.io ", []byte("h"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, dur)
}

func TestAllow_BlockedUntilFuture(t *testing.T) {
	l, mock := newLimiter(t, DefaultConfig())
	defer mock.Close()
	mock.ExpectQuery(`SELECT blocked_until`).
		WithArgs("u@x.io", []byte("h")).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(fixedNow.Add(10 * time.Minute)))

	ok, dur, err := l.Allow(context.Background(), "u@x.io", []byte("h"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10*time.Minute, dur)
}

func TestAllow_PastBlock_Allows(t *testing.T) {
	l, mock := newLimiter(t, DefaultConfig())
	defer mock.Close()
	mock.ExpectQuery(`SELECT blocked_until`).
		WithArgs("u@x.io", []byte("h")).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(fixedNow.Add(-time.Minute)))

	ok, _, err := l.Allow(context.Background(), "u@x.io", []byte("h"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllow_DBError_Propagates(t *testing.T) {
	l, mock := newLimiter(t, DefaultConfig())
	defer mock.Close()
	mock.ExpectQuery(`SELECT blocked_until`).WillReturnError(errors.New("db boom"))

	ok, _, err := l.Allow(context.Background(), "u@x.io", []byte("h"))
	require.Error(t, err)
	require.False(t, ok)
}

func TestSuccess_ResetsCounters(t *testing.T) {
	l, mock := newLimiter(t, DefaultConfig())
	defer mock.Close()
	mock.ExpectExec(`INSERT INTO login_attempts .* ON CONFLICT \(email, ip_hash\) DO UPDATE SET fail_count=0`).
		WithArgs("u@x.io", []byte("h")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, l.Success(context.Background(), "u@x.io", []byte("h")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_BelowThreshold_NoBlock(t *testing.T) {
	cfg := Config{Window: 5 * time.Minute, MaxFails: 5, BlockFor: 10 * time.Minute}
	l, mock := newLimiter(t, cfg)
	defer mock.Close()
	mock.ExpectQuery(`RETURNING fail_count`).
		WithArgs("u@x.io", []byte("h"), cfg.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))

	blocked, dur, err := l.Failure(context.Background(), "u@x.io", []byte("h"))
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, dur)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	cfg := Config{Window: 5 * time.Minute, MaxFails: 5, BlockFor: 10 * time.Minute}
	l, mock := newLimiter(t, cfg)
	defer mock.Close()
	mock.ExpectQuery(`RETURNING fail_count`).
		WithArgs("u@x.io", []byte("h"), cfg.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(5))
	mock.ExpectExec(`UPDATE login_attempts SET blocked_until=\$3 WHERE email=\$1 AND ip_hash=\$2`).
		WithArgs("u@x.io", []byte("h"), fixedNow.Add(cfg.BlockFor)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	blocked, dur, err := l.Failure(context.Background(), "u@x.io", []byte("h"))
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, cfg.BlockFor, dur)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPG_ZeroConfigFallsBackToDefault(t *testing.T) {
	l := NewPG(nil, Config{})
	require.Equal(t, DefaultConfig(), l.cfg)
}

func TestHashIP_IgnoresPort(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:9999")
	c := HashIP("5.6.7.8:123")
	require.Len(t, a, 32)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, HashIP("::1"), HashIP("[::1]:80"))
}

func TestNoop_NeverBlocks(t *testing.T) {
	var l Limiter = Noop{}
	ok, _, err := l.Allow(context.Background(), "x", nil)
	require.NoError(t, err)
	require.True(t, ok)
	blocked, _, _ := l.Failure(context.Background(), "x", nil)
	require.False(t, blocked)
}
