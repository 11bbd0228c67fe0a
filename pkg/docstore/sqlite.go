package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore keeps every document as a JSON text row of a single
// documents(collection, id, data) table and relies on the SQLite JSON
// functions for filtering and ordering.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string, dst any) error {
	data, err := getRaw(ctx, s.db, collection, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("json.Unmarshal(%s/%s): %w", collection, id, err)
	}
	return nil
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, doc any) error {
	return setDoc(ctx, s.db, collection, id, doc)
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	if err := updateDoc(ctx, tx, collection, id, fields); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	return deleteDoc(ctx, s.db, collection, id)
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	where, args, err := sqliteWhere(collection, q.Filters)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, data FROM documents WHERE ")
	sb.WriteString(where)

	if len(q.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, o := range q.OrderBy {
			if !fieldPattern.MatchString(o.Field) {
				return nil, fmt.Errorf("%w: order field %q", ErrUnsupportedFilter, o.Field)
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(jsonField(o.Field))
			if o.Desc {
				sb.WriteString(" DESC")
			}
		}
		// ties are broken by id in the direction of the first ordering
		sb.WriteString(", id")
		if q.OrderBy[0].Desc {
			sb.WriteString(" DESC")
		}
	}

	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		sb.WriteString(" LIMIT @limit OFFSET @offset")
		args = append(args, sql.Named("limit", limit), sql.Named("offset", q.Offset))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext(%s): %w", collection, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var d Document
		var data string
		if err := rows.Scan(&d.ID, &data); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		d.Data = []byte(data)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return docs, nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	where, args, err := sqliteWhere(collection, filters)
	if err != nil {
		return 0, err
	}
	var n int
	row := s.db.QueryRowContext(ctx, "SELECT count(*) FROM documents WHERE "+where, args...)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("QueryRowContext(count %s): %w", collection, err)
	}
	return n, nil
}

func (s *SQLiteStore) Batch() Batch {
	return &sqliteBatch{s: s}
}

type sqliteBatch struct {
	s   *SQLiteStore
	ops []batchOp
}

func (b *sqliteBatch) Set(collection, id string, doc any) Batch {
	b.ops = append(b.ops, batchOp{kind: opSet, collection: collection, id: id, doc: doc})
	return b
}

func (b *sqliteBatch) Update(collection, id string, fields map[string]any) Batch {
	b.ops = append(b.ops, batchOp{kind: opUpdate, collection: collection, id: id, fields: fields})
	return b
}

func (b *sqliteBatch) Delete(collection, id string) Batch {
	b.ops = append(b.ops, batchOp{kind: opDelete, collection: collection, id: id})
	return b
}

func (b *sqliteBatch) Commit(ctx context.Context) error {
	tx, err := b.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	for _, op := range b.ops {
		switch op.kind {
		case opSet:
			err = setDoc(ctx, tx, op.collection, op.id, op.doc)
		case opUpdate:
			err = updateDoc(ctx, tx, op.collection, op.id, op.fields)
		case opDelete:
			err = deleteDoc(ctx, tx, op.collection, op.id)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func getRaw(ctx context.Context, q querier, collection, id string) ([]byte, error) {
	query := `SELECT data FROM documents WHERE collection = @collection AND id = @id`
	var data string
	err := q.QueryRowContext(ctx, query,
		sql.Named("collection", collection), sql.Named("id", id)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("QueryRowContext(%s/%s): %w", collection, id, err)
	}
	return []byte(data), nil
}

func setDoc(ctx context.Context, q querier, collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("json.Marshal(%s/%s): %w", collection, id, err)
	}
	query := `INSERT INTO documents (collection, id, data) VALUES (@collection, @id, @data)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data`
	_, err = q.ExecContext(ctx, query,
		sql.Named("collection", collection), sql.Named("id", id), sql.Named("data", string(data)))
	if err != nil {
		return fmt.Errorf("ExecContext(set %s/%s): %w", collection, id, err)
	}
	return nil
}

func updateDoc(ctx context.Context, q querier, collection, id string, fields map[string]any) error {
	raw, err := getRaw(ctx, q, collection, id)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("json.Unmarshal(%s/%s): %w", collection, id, err)
	}
	if err := applyFields(doc, fields); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return setDoc(ctx, q, collection, id, doc)
}

func deleteDoc(ctx context.Context, q querier, collection, id string) error {
	query := `DELETE FROM documents WHERE collection = @collection AND id = @id`
	_, err := q.ExecContext(ctx, query, sql.Named("collection", collection), sql.Named("id", id))
	if err != nil {
		return fmt.Errorf("ExecContext(delete %s/%s): %w", collection, id, err)
	}
	return nil
}

func jsonField(field string) string {
	return "json_extract(data, '$." + field + "')"
}

func sqliteWhere(collection string, filters []Filter) (string, []any, error) {
	clauses := []string{"collection = @collection"}
	args := []any{sql.Named("collection", collection)}

	for i, f := range filters {
		if !fieldPattern.MatchString(f.Field) {
			return "", nil, fmt.Errorf("%w: field %q", ErrUnsupportedFilter, f.Field)
		}
		name := fmt.Sprintf("p%d", i)
		value, err := sqliteValue(f.Value)
		if err != nil {
			return "", nil, err
		}
		args = append(args, sql.Named(name, value))
		field := jsonField(f.Field)
		switch f.Op {
		case Eq, NotEq, Lt, Lte, Gt, Gte:
			op := string(f.Op)
			if f.Op == Eq {
				op = "="
			}
			clauses = append(clauses, fmt.Sprintf("%s %s @%s", field, op, name))
		case Contains:
			clauses = append(clauses, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM json_each(data, '$.%s') WHERE json_each.value = @%s)", f.Field, name))
		case Prefix:
			clauses = append(clauses, fmt.Sprintf(
				"substr(%s, 1, length(@%s)) = @%s", field, name, name))
		default:
			return "", nil, fmt.Errorf("%w: op %q", ErrUnsupportedFilter, f.Op)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// sqliteValue converts a filter value to what json_extract yields for the
// same JSON value, so that comparisons behave like they do on the document.
func sqliteValue(v any) (any, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string, int, int32, int64, float32, float64, nil:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("json.Marshal(filter value): %w", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, fmt.Errorf("json.Unmarshal(filter value): %w", err)
		}
		switch out.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("%w: composite value", ErrUnsupportedFilter)
		}
		return sqliteValue(out)
	}
}
