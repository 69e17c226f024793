package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, dialect, "mock"), mock
}

func TestSQLStoreLoadNotInitialized(t *testing.T) {
	s, mock := setupMockStore(t, DialectSQLite)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM cmdguard_meta WHERE key = ?`)).
		WithArgs("initialized").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	if _, err := s.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStoreLoad(t *testing.T) {
	s, mock := setupMockStore(t, DialectPostgres)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM cmdguard_meta WHERE key = $1`)).
		WithArgs("initialized").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("2026-01-01T00:00:00Z"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT kind, prefix FROM cmdguard_rules`)).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "prefix"}).
			AddRow("block", "kubectl").
			AddRow("block", "gcloud").
			AddRow("permit", "kubectl get"))

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := &Rules{Blocked: []string{"gcloud", "kubectl"}, Permitted: []string{"kubectl get"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStoreLoadUnknownKind(t *testing.T) {
	s, mock := setupMockStore(t, DialectSQLite)
	mock.ExpectQuery("SELECT value FROM cmdguard_meta").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("x"))
	mock.ExpectQuery("SELECT kind, prefix FROM cmdguard_rules").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "prefix"}).AddRow("allow", "ls"))

	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("expected error for unknown rule kind")
	}
}

func TestSQLStoreSave(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "replaces rules",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM cmdguard_rules").WillReturnResult(sqlmock.NewResult(0, 3))
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO cmdguard_rules (kind, prefix) VALUES ($1, $2)`)).
					WithArgs("block", "kubectl").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO cmdguard_rules (kind, prefix) VALUES ($1, $2)`)).
					WithArgs("permit", "kubectl get").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO cmdguard_meta").
					WithArgs("initialized", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "insert failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM cmdguard_rules").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO cmdguard_rules").
					WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			wantErr: true,
		},
		{
			name: "begin failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := setupMockStore(t, DialectPostgres)
			tt.setupMock(mock)

			err := s.Save(context.Background(), &Rules{Blocked: []string{"kubectl"}, Permitted: []string{"kubectl get"}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Save() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSQLStoreSaveRetriesBusy(t *testing.T) {
	s, mock := setupMockStore(t, DialectSQLite)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cmdguard_rules").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO cmdguard_rules (kind, prefix) VALUES (?, ?)`)).
		WithArgs("block", "kubectl").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO cmdguard_meta").
		WithArgs("initialized", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.Save(context.Background(), &Rules{Blocked: []string{"kubectl"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	if !isBusy(errors.New("database is locked")) || !isBusy(errors.New("sqlite: SQLITE_BUSY")) {
		t.Error("busy errors not detected")
	}
	if isBusy(sql.ErrConnDone) {
		t.Error("ErrConnDone reported as busy")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	lite := &SQLStore{dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "rules.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first save, got %v", err)
	}

	if err := s.Save(ctx, &Rules{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Blocked) != 0 || len(got.Permitted) != 0 {
		t.Errorf("expected empty rules after saving empty, got %+v", got)
	}

	if err := s.Save(ctx, &Rules{Blocked: []string{"gcloud", "kubectl"}, Permitted: []string{"kubectl get"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, &Rules{Blocked: []string{"kubectl"}, Permitted: []string{"kubectl get"}}); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := &Rules{Blocked: []string{"kubectl"}, Permitted: []string{"kubectl get"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}
