package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/sentinel"
	txcontext "ozhi/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// Store persists audit records in the audit_logs table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer returns the transaction stored in ctx, if any, so audit rows commit or roll back
// together with the business write that produced them.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// EnsureSchema creates the audit_logs table and its indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

const insertRecord = `
	INSERT INTO audit_logs (
		id, action, category, severity, result,
		user_id, session_id, request_id, ip_address, user_agent,
		target_type, target_id, target_name,
		changes_before, changes_after, changed_fields,
		error, metadata, timestamp, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
`

// Append inserts one record with a single statement.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx, insertRecord,
		record.ID,
		record.Action,
		string(record.Category),
		string(record.Severity),
		string(record.Result),
		nullString(record.UserID),
		nullString(record.SessionID),
		record.RequestID,
		nullString(record.IPAddress),
		nullString(record.UserAgent),
		nullString(record.TargetType),
		nullString(record.TargetID),
		nullString(record.TargetName),
		nullJSON(record.ChangesBefore),
		nullJSON(record.ChangesAfter),
		pq.Array(record.ChangedFields),
		nullString(record.Error),
		metadata,
		record.Timestamp,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, action, category, severity, result,
		   user_id, session_id, request_id, ip_address, user_agent,
		   target_type, target_id, target_name,
		   changes_before, changes_after, changed_fields,
		   error, metadata, timestamp, created_at
	FROM audit_logs
`

// Get returns the record with id, or sentinel.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (audit.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return audit.Record{}, sentinel.ErrNotFound
	}

	row := s.execer(ctx).QueryRowContext(ctx, selectColumns+" WHERE id = $1", id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return audit.Record{}, fmt.Errorf("get audit record: %w", err)
	}
	return record, nil
}

// Query returns matching records, most recent first.
func (s *Store) Query(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	query, args := buildQuery(q.Normalize())

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]audit.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// buildQuery renders the SELECT for q with positional arguments. q must be normalized.
func buildQuery(q audit.Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if len(q.Categories) > 0 {
		add("category = ANY($%d)", pq.Array(toStrings(q.Categories)))
	}
	if len(q.Severities) > 0 {
		add("severity = ANY($%d)", pq.Array(toStrings(q.Severities)))
	}
	if !q.StartDate.IsZero() {
		add("timestamp >= $%d", q.StartDate)
	}
	if !q.EndDate.IsZero() {
		add("timestamp <= $%d", q.EndDate)
	}
	if q.TargetType != "" {
		add("target_type = $%d", q.TargetType)
	}
	if q.TargetID != "" {
		add("target_id = $%d", q.TargetID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if q.RequestID != "" {
		add("request_id = $%d", q.RequestID)
	}

	var b strings.Builder
	b.WriteString(selectColumns)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, q.Limit, q.Offset)
	fmt.Fprintf(&b, " ORDER BY timestamp DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return b.String(), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (audit.Record, error) {
	var (
		r                                         audit.Record
		category, severity, result                string
		userID, sessionID, ipAddress, userAgent   sql.NullString
		targetType, targetID, targetName, errText sql.NullString
		before, after, metadata                   []byte
	)

	err := row.Scan(
		&r.ID, &r.Action, &category, &severity, &result,
		&userID, &sessionID, &r.RequestID, &ipAddress, &userAgent,
		&targetType, &targetID, &targetName,
		&before, &after, pq.Array(&r.ChangedFields),
		&errText, &metadata, &r.Timestamp, &r.CreatedAt,
	)
	if err != nil {
		return audit.Record{}, err
	}

	r.Category = audit.Category(category)
	r.Severity = audit.Severity(severity)
	r.Result = audit.Result(result)
	r.UserID = userID.String
	r.SessionID = sessionID.String
	r.IPAddress = ipAddress.String
	r.UserAgent = userAgent.String
	r.TargetType = targetType.String
	r.TargetID = targetID.String
	r.TargetName = targetName.String
	r.Error = errText.String
	if len(before) > 0 {
		r.ChangesBefore = json.RawMessage(before)
	}
	if len(after) > 0 {
		r.ChangesAfter = json.RawMessage(after)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return audit.Record{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return r, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
