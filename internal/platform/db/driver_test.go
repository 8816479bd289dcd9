package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM patients WHERE id = ?", "SELECT * FROM patients WHERE id = $1"},
		{"UPDATE t SET a = ?, b = ? WHERE id = ?", "UPDATE t SET a = $1, b = $2 WHERE id = $3"},
		{"SELECT * FROM prescriptions WHERE patient_id = ? AND (doctor_name LIKE ? OR tags LIKE ?)", "SELECT * FROM prescriptions WHERE patient_id = $1 AND (doctor_name LIKE $2 OR tags LIKE $3)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rebind(tt.in))
	}
}

func newMockSQLDB(t *testing.T) (*SQLDB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewSQLDB(sqlDB), mock
}

func TestSQLDB_InTxCommits(t *testing.T) {
	d, mock := newMockSQLDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE prescriptions").WithArgs("target", "source").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM patients").WithArgs("source").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := d.InTx(context.Background(), func(ctx context.Context, q Queryer) error {
		if err := q.Exec(ctx, "UPDATE prescriptions SET patient_id = ? WHERE patient_id = ?", "target", "source"); err != nil {
			return err
		}
		return q.Exec(ctx, "DELETE FROM patients WHERE id = ?", "source")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDB_InTxRollsBackOnError(t *testing.T) {
	d, mock := newMockSQLDB(t)
	boom := errors.New("delete failed")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE prescriptions").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM patients").WillReturnError(boom)
	mock.ExpectRollback()

	err := d.InTx(context.Background(), func(ctx context.Context, q Queryer) error {
		if err := q.Exec(ctx, "UPDATE prescriptions SET patient_id = ? WHERE patient_id = ?", "target", "source"); err != nil {
			return err
		}
		return q.Exec(ctx, "DELETE FROM patients WHERE id = ?", "source")
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDB_QueryRowNoRows(t *testing.T) {
	d, mock := newMockSQLDB(t)
	mock.ExpectQuery("SELECT id FROM patients").WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	var id string
	err := d.QueryRow(context.Background(), "SELECT id FROM patients WHERE id = ?", "missing").Scan(&id)
	assert.ErrorIs(t, err, ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDB_ExecBatchStopsAtFirstFailure(t *testing.T) {
	d, mock := newMockSQLDB(t)
	mock.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE b").WillReturnError(errors.New("syntax error"))

	err := d.ExecBatch(context.Background(), []string{"CREATE TABLE a (id TEXT)", "CREATE TABLE b (", "CREATE TABLE c (id TEXT)"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle"})
	require.Error(t, err)
}

func TestOpen_SQLiteMemory(t *testing.T) {
	d, err := Open(context.Background(), Options{Driver: DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Ping(context.Background()))
}
