package database

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"m/0001_init.sql": {Data: []byte("CREATE TABLE a (id INT)")},
		"m/0002_more.sql": {Data: []byte("CREATE TABLE b (id INT)")},
		"m/README.md":     {Data: []byte("ignored")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("SELECT 1 FROM schema_migrations WHERE version = \\$1").
		WithArgs("0001_init").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	mock.ExpectQuery("SELECT 1 FROM schema_migrations WHERE version = \\$1").
		WithArgs("0002_more").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_more").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, runMigrations(context.Background(), db, fsys, "m"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, name := range []string{"0001_ledger.sql", "0002_trades.sql", "0003_withdrawals.sql"} {
		content, err := migrationFiles.ReadFile("migrations/" + name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, content)
	}

	ledger, err := migrationFiles.ReadFile("migrations/0001_ledger.sql")
	require.NoError(t, err)
	assert.Contains(t, string(ledger), "UNIQUE (reference, kind, account_id)")
}
