package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zecruu/SpineLineDemo/internal/db"
)

// PgSink appends entries to the audit_logs table.
type PgSink struct {
	pool db.Querier
}

func NewPgSink(pool db.Querier) *PgSink {
	return &PgSink{pool: pool}
}

func (s *PgSink) Record(ctx context.Context, e Entry) error {
	e = normalize(e)
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, action, performed_by, resource_type, resource_id, details,
			ip_address, user_agent, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`, e.ID, e.Action, e.Actor, string(e.ResourceType), e.ResourceID, details, e.IPAddress, e.UserAgent, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Filter narrows List results. Empty fields are ignored.
type Filter struct {
	Action       string
	ResourceType ResourceType
	ResourceID   *uuid.UUID
	Actor        *uuid.UUID
	Since        *time.Time
	Limit        int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// List returns entries newest first.
func (s *PgSink) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", string(f.ResourceType))
	}
	if f.ResourceID != nil {
		add("resource_id = $%d", *f.ResourceID)
	}
	if f.Actor != nil {
		add("performed_by = $%d", *f.Actor)
	}
	if f.Since != nil {
		add("timestamp >= $%d", *f.Since)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, action, performed_by, resource_type, resource_id, details,
		COALESCE(ip_address, ''), COALESCE(user_agent, ''), timestamp FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e            Entry
			resourceType string
			details      []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &resourceType, &e.ResourceID, &details,
			&e.IPAddress, &e.UserAgent, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.ResourceType = ResourceType(resourceType)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
