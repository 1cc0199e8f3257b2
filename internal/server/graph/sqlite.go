package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/query"
)

// SQLiteRepository implements Repository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite repository. dbPath may be ":memory:".
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// A single connection serializes writers and keeps an in-memory
	// database alive for the life of the repository.
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the SQLite connection
func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateElement inserts a new element
func (r *SQLiteRepository) CreateElement(ctx context.Context, rec element.Record) (element.Record, error) {
	rec = element.Record{ID: rec.ID, TypeTag: rec.TypeTag, Attributes: sanitize(rec.Attributes)}

	payload, err := json.Marshal(rec.Attributes)
	if err != nil {
		return element.Record{}, element.Invalid(fmt.Sprintf("attributes are not JSON encodable: %v", err), nil)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return element.Record{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkShortName(ctx, tx, rec); err != nil {
		return element.Record{}, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO elements (id, type_tag, short_name, attributes, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.TypeTag, nullString(shortNameOf(rec.Attributes)), string(payload), now, now)
	if err != nil {
		return element.Record{}, fmt.Errorf("inserting element: %w", err)
	}

	if err := writeReferences(ctx, tx, rec); err != nil {
		return element.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return element.Record{}, fmt.Errorf("committing element: %w", err)
	}
	return rec, nil
}

// GetElement retrieves an element by type tag and id
func (r *SQLiteRepository) GetElement(ctx context.Context, typeTag, id string) (element.Record, error) {
	return getElement(ctx, r.db, typeTag, id)
}

func getElement(ctx context.Context, q querier, typeTag, id string) (element.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT id, type_tag, attributes FROM elements WHERE id = ?`, id)
	rec, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return element.Record{}, element.NotFound(id)
	}
	if err != nil {
		return element.Record{}, err
	}
	if typeTag != "" && rec.TypeTag != typeTag {
		return element.Record{}, element.NotFound(id)
	}
	return rec, nil
}

// UpdateElement merges changed into the stored attributes
func (r *SQLiteRepository) UpdateElement(ctx context.Context, typeTag, id string, changed map[string]any) (element.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return element.Record{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getElement(ctx, tx, typeTag, id)
	if err != nil {
		return element.Record{}, err
	}

	merged := current.Merge(sanitize(changed))
	if err := checkShortName(ctx, tx, merged); err != nil {
		return element.Record{}, err
	}

	payload, err := json.Marshal(merged.Attributes)
	if err != nil {
		return element.Record{}, element.Invalid(fmt.Sprintf("attributes are not JSON encodable: %v", err), nil)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE elements SET short_name = ?, attributes = ?, modified_at = ? WHERE id = ?
	`, nullString(shortNameOf(merged.Attributes)), string(payload), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return element.Record{}, fmt.Errorf("updating element: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM element_refs WHERE source_id = ?`, id); err != nil {
		return element.Record{}, fmt.Errorf("clearing references: %w", err)
	}
	if err := writeReferences(ctx, tx, merged); err != nil {
		return element.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return element.Record{}, fmt.Errorf("committing update: %w", err)
	}
	return merged, nil
}

// DeleteElement removes an element and its outgoing references
func (r *SQLiteRepository) DeleteElement(ctx context.Context, typeTag, id string, force bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var storedType string
	err = tx.QueryRowContext(ctx, `SELECT type_tag FROM elements WHERE id = ?`, id).Scan(&storedType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up element: %w", err)
	}
	if typeTag != "" && storedType != typeTag {
		return element.NotFound(id)
	}

	if !force {
		referrers, err := referrersOf(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(referrers) > 0 {
			return stillReferenced(id, referrers)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting element: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM element_refs WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("deleting references: %w", err)
	}

	return tx.Commit()
}

// ListElements compiles req into SQL over the JSON attributes
func (r *SQLiteRepository) ListElements(ctx context.Context, req query.Request) (query.Page, error) {
	req = req.Normalize()
	where, args := compileWhere(req)
	orderBy, orderArgs := compileOrder(req.Sort)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM elements`+where, args...).Scan(&total); err != nil {
		return query.Page{}, fmt.Errorf("counting elements: %w", err)
	}

	stmt := `SELECT id, type_tag, attributes FROM elements` + where + orderBy + ` LIMIT ? OFFSET ?`
	all := append(append(append([]any{}, args...), orderArgs...), req.PageSize, req.Offset())

	rows, err := r.db.QueryContext(ctx, stmt, all...)
	if err != nil {
		return query.Page{}, fmt.Errorf("listing elements: %w", err)
	}
	defer rows.Close()

	content := []element.Record{}
	for rows.Next() {
		rec, err := scanElement(rows)
		if err != nil {
			return query.Page{}, err
		}
		content = append(content, rec)
	}
	if err := rows.Err(); err != nil {
		return query.Page{}, fmt.Errorf("iterating elements: %w", err)
	}

	return query.Page{Content: content, Info: query.NewInfo(req.Page, req.PageSize, total)}, nil
}

// fieldExpr addresses a query field as a SQL expression.
func fieldExpr(field string) (string, []any) {
	switch field {
	case query.FieldID:
		return "id", nil
	case query.FieldTypeTag:
		return "type_tag", nil
	default:
		return "json_extract(attributes, ?)", []any{"$." + field}
	}
}

func compileWhere(req query.Request) (string, []any) {
	var clauses []string
	var args []any

	if req.TypeTag != "" {
		clauses = append(clauses, "type_tag = ?")
		args = append(args, req.TypeTag)
	}

	for _, f := range req.Filter {
		expr, exprArgs := fieldExpr(f.Field)
		text := "CAST(" + expr + " AS TEXT)"
		switch f.Op {
		case query.OpEq:
			clauses = append(clauses, text+" = ?")
			args = append(append(args, exprArgs...), f.Value)
		case query.OpNe:
			clauses = append(clauses, "("+expr+" IS NULL OR "+text+" <> ?)")
			args = append(append(append(args, exprArgs...), exprArgs...), f.Value)
		case query.OpContains:
			clauses = append(clauses, "LOWER("+text+`) LIKE ? ESCAPE '\'`)
			args = append(append(args, exprArgs...), likePattern(f.Value))
		}
	}

	if req.Search != "" {
		pattern := likePattern(req.Search)
		clauses = append(clauses, `(LOWER(id) LIKE ? ESCAPE '\' OR LOWER(type_tag) LIKE ? ESCAPE '\' OR EXISTS (
			SELECT 1 FROM json_each(elements.attributes)
			WHERE json_each.type = 'text' AND LOWER(json_each.value) LIKE ? ESCAPE '\'))`)
		args = append(args, pattern, pattern, pattern)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// compileOrder sorts by the requested fields, then by insertion order.
func compileOrder(sorts []query.Sort) (string, []any) {
	var terms []string
	var args []any
	for _, s := range sorts {
		expr, exprArgs := fieldExpr(s.Field)
		dir := " ASC"
		if s.Desc {
			dir = " DESC"
		}
		terms = append(terms, expr+dir)
		args = append(args, exprArgs...)
	}
	terms = append(terms, "seq ASC")
	return " ORDER BY " + strings.Join(terms, ", "), args
}

func likePattern(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func checkShortName(ctx context.Context, q querier, rec element.Record) error {
	short := shortNameOf(rec.Attributes)
	if short == "" {
		return nil
	}
	var holder string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM elements WHERE type_tag = ? AND short_name = ? AND id <> ? LIMIT 1
	`, rec.TypeTag, short, rec.ID).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking shortName: %w", err)
	}
	return duplicateShortName(rec.TypeTag, short, holder)
}

func writeReferences(ctx context.Context, q querier, rec element.Record) error {
	for field, target := range referencesOf(rec) {
		_, err := q.ExecContext(ctx, `
			INSERT INTO element_refs (source_id, field, target_id) VALUES (?, ?, ?)
		`, rec.ID, field, target)
		if err != nil {
			return fmt.Errorf("writing reference %s: %w", field, err)
		}
	}
	return nil
}

func referrersOf(ctx context.Context, q querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT source_id FROM element_refs
		WHERE target_id = ? AND source_id <> ?
		ORDER BY source_id
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("finding referrers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		ids = append(ids, src)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElement(row rowScanner) (element.Record, error) {
	var rec element.Record
	var attrs string
	if err := row.Scan(&rec.ID, &rec.TypeTag, &attrs); err != nil {
		return element.Record{}, err
	}
	if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
		return element.Record{}, fmt.Errorf("unmarshaling attributes of %s: %w", rec.ID, err)
	}
	if rec.Attributes == nil {
		rec.Attributes = map[string]any{}
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
