package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"advsandbox/internal/store"
)

const modelColumns = "id, name, type, version, status, description, artifact_url, metadata, created_at, updated_at"

var modelSortColumns = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"name":       "name",
	"id":         "id",
}

// CreateModel registers a model. Duplicate ids return store.ErrConflict.
func (s *Store) CreateModel(ctx context.Context, m *store.Model) error {
	meta, err := json.Marshal(nonNilMap(m.Metadata))
	if err != nil {
		return err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO models (id, name, type, version, status, description, artifact_url, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, m.ID, m.Name, m.Type, m.Version, m.Status, m.Description, m.ArtifactURL, meta).Scan(&m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create model %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetModel(ctx context.Context, id string) (*store.Model, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+modelColumns+" FROM models WHERE id = $1", id)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListModels(ctx context.Context, f store.ModelFilter) ([]store.Model, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM models"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count models: %w", err)
	}

	col, ok := modelSortColumns[f.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported sort column %q", f.SortBy)
	}
	query := fmt.Sprintf("SELECT %s FROM models%s ORDER BY %s %s, id %s%s",
		modelColumns, clause, col, direction(f.SortDesc), direction(f.SortDesc), limitOffset(&args, f.Limit, f.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	models := []store.Model{}
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, 0, err
		}
		models = append(models, *m)
	}
	return models, total, rows.Err()
}

func (s *Store) UpdateModelStatus(ctx context.Context, id string, status store.ModelStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE models SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanModel(row scanner) (*store.Model, error) {
	var (
		m    store.Model
		meta []byte
	)
	err := row.Scan(&m.ID, &m.Name, &m.Type, &m.Version, &m.Status, &m.Description, &m.ArtifactURL, &meta, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for model %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

func direction(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

// limitOffset appends LIMIT/OFFSET placeholders and their args.
func limitOffset(args *[]interface{}, limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		*args = append(*args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(*args))
	}
	return b.String()
}
