package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanRecord(row *sql.Row, kind string) (domain.Record, error) {
	rec := domain.Record{Kind: kind}
	var body string
	err := row.Scan(&rec.ID, &body, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(body), &rec.Data); err != nil {
		return rec, fmt.Errorf("decode %s/%s: %w", kind, rec.ID, err)
	}
	return rec, nil
}

func getRecord(ctx context.Context, q queryer, scope domain.Scope, kind, id string) (domain.Record, error) {
	return scanRecord(q.QueryRowContext(ctx, `SELECT id,body_json,created_at,updated_at FROM records WHERE app_id=? AND user_id=? AND kind=? AND id=?`,
		scope.AppID, scope.UserID, kind, id), kind)
}

func (r Repo) GetRecord(ctx context.Context, scope domain.Scope, kind, id string) (domain.Record, error) {
	return getRecord(ctx, r.DB, scope, kind, id)
}

func (r Repo) GetRecordTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, kind, id string) (domain.Record, error) {
	return getRecord(ctx, tx, scope, kind, id)
}

// ListRecords returns a collection ordered by id.
func (r Repo) ListRecords(ctx context.Context, scope domain.Scope, kind string) ([]domain.Record, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,body_json,created_at,updated_at FROM records WHERE app_id=? AND user_id=? AND kind=? ORDER BY id ASC`,
		scope.AppID, scope.UserID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Record{}
	for rows.Next() {
		rec := domain.Record{Kind: kind}
		var body string
		if err := rows.Scan(&rec.ID, &body, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &rec.Data); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", kind, rec.ID, err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) InsertRecordTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, rec domain.Record) error {
	body, err := encodeBody(rec.Data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO records(app_id,user_id,kind,id,body_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		scope.AppID, scope.UserID, rec.Kind, rec.ID, body, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// UpdateRecordTx replaces the stored body of an existing record.
func (r Repo) UpdateRecordTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, rec domain.Record) error {
	body, err := encodeBody(rec.Data)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE records SET body_json=?, updated_at=? WHERE app_id=? AND user_id=? AND kind=? AND id=?`,
		body, rec.UpdatedAt, scope.AppID, scope.UserID, rec.Kind, rec.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRecordTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, kind, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE app_id=? AND user_id=? AND kind=? AND id=?`,
		scope.AppID, scope.UserID, kind, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeBody(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

// EventFilter narrows event listings; empty fields match everything.
type EventFilter struct {
	Scope      domain.Scope
	Type       string
	EntityKind string
	EntityID   string
}

func (f EventFilter) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Scope.AppID != "" {
		clauses = append(clauses, "app_id=?")
		args = append(args, f.Scope.AppID)
	}
	if f.Scope.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.Scope.UserID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	return clauses, args
}

// LatestEvents returns newest-first events older than cursor (0 means from the top).
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,app_id,user_id,entity_kind,entity_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,app_id,user_id,entity_kind,entity_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AppID, &e.UserID, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}
