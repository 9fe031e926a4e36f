package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/estateloop/estateloop/pkg/roles"
)

// DBLogger persists the audit trail through database/sql. It works against
// PostgreSQL in production and SQLite in tests; the SQL stays in the
// common subset.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures the
// audit table exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure role_change_audit table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS role_change_audit (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		previous_role TEXT NOT NULL,
		new_role TEXT NOT NULL,
		acting_admin_id TEXT,
		reason TEXT,
		request_id TEXT,
		timestamp TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_role_change_audit_user ON role_change_audit(user_id);
	CREATE INDEX IF NOT EXISTS idx_role_change_audit_timestamp ON role_change_audit(timestamp);
	`
	_, err := l.db.Exec(query)
	return err
}

// LogRoleChange appends one event. The id and timestamp are assigned here
// if the caller left them empty.
func (l *DBLogger) LogRoleChange(ctx context.Context, event *RoleChangeEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO role_change_audit (id, user_id, previous_role, new_role, acting_admin_id, reason, request_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		string(event.PreviousRole),
		string(event.NewRole),
		event.ActingAdminID,
		event.Reason,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// RecentForUser returns the newest events for a user, newest first.
func (l *DBLogger) RecentForUser(ctx context.Context, userID string, limit int) ([]*RoleChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, previous_role, new_role, acting_admin_id, reason, request_id, timestamp
		FROM role_change_audit
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*RoleChangeEvent
	for rows.Next() {
		var event RoleChangeEvent
		var previousRole, newRole string
		if err := rows.Scan(
			&event.ID,
			&event.UserID,
			&previousRole,
			&newRole,
			&event.ActingAdminID,
			&event.Reason,
			&event.RequestID,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.PreviousRole = roles.Role(previousRole)
		event.NewRole = roles.Role(newRole)
		events = append(events, &event)
	}
	return events, rows.Err()
}

// Close is a no-op; the caller owns the connection.
func (l *DBLogger) Close() error { return nil }

var _ Logger = (*DBLogger)(nil)
var _ Logger = (*MemoryLogger)(nil)
