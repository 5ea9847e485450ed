package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"advsandbox/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

var modelRowColumns = []string{"id", "name", "type", "version", "status", "description", "artifact_url", "metadata", "created_at", "updated_at"}

func TestCreateModel(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now()
	m := &store.Model{ID: "m1", Name: "Sentiment", Type: store.ModalityNLP, Version: "1.0", Status: store.ModelStatusActive}

	mock.ExpectQuery(`INSERT INTO models`).
		WithArgs("m1", "Sentiment", store.ModalityNLP, "1.0", store.ModelStatusActive, "", "", []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery(`INSERT INTO models`).
		WillReturnError(&pq.Error{Code: "23505"})

	if err := s.CreateModel(context.Background(), m); err != nil {
		t.Fatalf("CreateModel failed: %v", err)
	}
	if !m.CreatedAt.Equal(now) {
		t.Errorf("expected CreatedAt to be set")
	}
	if err := s.CreateModel(context.Background(), m); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetModel(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM models WHERE id = \$1`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(modelRowColumns).
			AddRow("m1", "Detector", "CV", "2.1", "active", "", "s3://models/cv.yaml", []byte(`{"labels":"Cat,Dog,Object"}`), now, now))
	mock.ExpectQuery(`SELECT .* FROM models WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	m, err := s.GetModel(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if m.Type != store.ModalityCV || m.Metadata["labels"] != "Cat,Dog,Object" || m.ArtifactURL != "s3://models/cv.yaml" {
		t.Errorf("unexpected model: %+v", m)
	}
	if _, err := s.GetModel(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListModels(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM models WHERE type = \$1`).
		WithArgs(store.ModalityNLP).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM models WHERE type = \$1 ORDER BY name ASC, id ASC LIMIT \$2`).
		WithArgs(store.ModalityNLP, 50).
		WillReturnRows(sqlmock.NewRows(modelRowColumns).
			AddRow("m1", "Sentiment", "NLP", "1.0", "active", "", "", []byte(`{}`), now, now))

	models, total, err := s.ListModels(context.Background(), store.ModelFilter{Type: store.ModalityNLP, SortBy: "name", Limit: 50})
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if total != 1 || len(models) != 1 || models[0].ID != "m1" {
		t.Errorf("unexpected models: total=%d %+v", total, models)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateModelStatus(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE models SET status = \$1`).
		WithArgs(store.ModelStatusDeprecated, "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE models SET status = \$1`).
		WithArgs(store.ModelStatusDeprecated, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.UpdateModelStatus(context.Background(), "m1", store.ModelStatusDeprecated); err != nil {
		t.Fatalf("UpdateModelStatus failed: %v", err)
	}
	if err := s.UpdateModelStatus(context.Background(), "missing", store.ModelStatusDeprecated); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
