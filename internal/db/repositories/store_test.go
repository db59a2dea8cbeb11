package repositories

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/license-console/license-console/internal/db/models"
)

func TestWithTx_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSQLStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE organizations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(r Repos) error {
		if err := r.Organizations().UpdateLifecycle(context.Background(), &models.Organization{ID: "org-1"}); err != nil {
			return err
		}
		return r.Audit().Append(context.Background(), &models.AuditLog{Actor: "admin", Action: models.ActionOrganizationRenew})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWithTx_RollbackOnAuditFailure(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSQLStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE organizations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errDB)
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(r Repos) error {
		if err := r.Organizations().UpdateLifecycle(context.Background(), &models.Organization{ID: "org-1"}); err != nil {
			return err
		}
		return r.Audit().Append(context.Background(), &models.AuditLog{Actor: "admin", Action: models.ActionOrganizationRenew})
	})
	if !errors.Is(err, errDB) {
		t.Fatalf("expected errDB, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSQLStore(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	defer func() {
		if recover() == nil {
			t.Error("panic should propagate")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	}()
	_ = store.WithTx(context.Background(), func(Repos) error { panic("boom") })
}

func TestWithTx_BeginError(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSQLStore(db)
	mock.ExpectBegin().WillReturnError(errDB)

	called := false
	err := store.WithTx(context.Background(), func(Repos) error { called = true; return nil })
	if !errors.Is(err, errDB) || called {
		t.Errorf("WithTx = %v, called=%v", err, called)
	}
}

func TestPQErrorClassification(t *testing.T) {
	if !IsUniqueViolation(&pq.Error{Code: "23505"}) || IsUniqueViolation(errDB) {
		t.Error("IsUniqueViolation misclassified")
	}
	if !IsForeignKeyViolation(&pq.Error{Code: "23503"}) || IsForeignKeyViolation(nil) {
		t.Error("IsForeignKeyViolation misclassified")
	}
}
