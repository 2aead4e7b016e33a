package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUpAppliesPendingMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"migrations/0001_init.up.sql":    {Data: []byte("create table a(id int);")},
		"migrations/0001_init.down.sql":  {Data: []byte("drop table a;")},
		"migrations/0002_chain.up.sql":   {Data: []byte("create table b(id int); insert into b values (1);")},
		"migrations/0002_chain.down.sql": {Data: []byte("drop table b;")},
	}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into b values").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_chain.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, fsys, nil)
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a(id int);")},
		"0001_init.down.sql": {Data: []byte("drop table a;")},
	}
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_init.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewManager(db, fsys, nil).Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSplitStatementsKeepsQuotedSemicolons(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); select 1;")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
}
