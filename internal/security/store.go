package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/carebook/carebook-backend/internal/principal"
)

// Store persists security events. Append-only: there is no update or
// single-row delete path, only the retention purge.
type Store struct {
	db *sql.DB
}

// NewStore creates a security event store.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("security: sql.DB required")
	}
	return &Store{db: db}
}

// Record inserts an event. Callers on the login path treat failures as
// log-and-continue; authentication never fails because the trail write
// did.
func (s *Store) Record(ctx context.Context, event *Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if event.Severity == "" {
		event.Severity = SeverityFor(event.RiskScore)
	}

	query := `
		INSERT INTO security_events (
			id, kind, role, principal_id, identifier, source_addr,
			user_agent, fingerprint, severity, risk_score, risk_factors,
			suspicious, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var principalID any
	if event.PrincipalID != nil {
		principalID = *event.PrincipalID
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Kind,
		nullString(string(event.Role)),
		principalID,
		nullString(event.Identifier),
		nullString(event.SourceAddr),
		nullString(event.UserAgent),
		nullString(event.Fingerprint),
		event.Severity,
		event.RiskScore,
		pq.Array(event.RiskFactors),
		event.Suspicious,
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("security: recording event failed: %w", err)
	}
	return nil
}

// Filter narrows a trail query.
type Filter struct {
	Kind        EventKind
	Role        string
	PrincipalID *uuid.UUID
	Since       time.Time
	Until       time.Time
	Suspicious  *bool
	Limit       int
	Offset      int
}

// Query retrieves events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, kind, role, principal_id, identifier, source_addr,
			   user_agent, fingerprint, severity, risk_score, risk_factors,
			   suspicious, details, created_at
		FROM security_events
		WHERE 1=1
	`
	var args []any
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}
	if filter.Role != "" {
		query += fmt.Sprintf(" AND role = $%d", argIdx)
		args = append(args, filter.Role)
		argIdx++
	}
	if filter.PrincipalID != nil {
		query += fmt.Sprintf(" AND principal_id = $%d", argIdx)
		args = append(args, *filter.PrincipalID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.Until)
		argIdx++
	}
	if filter.Suspicious != nil {
		query += fmt.Sprintf(" AND suspicious = $%d", argIdx)
		args = append(args, *filter.Suspicious)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("security: querying events failed: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var role, identifier, sourceAddr, userAgent, fingerprint, details sql.NullString
		var principalID uuid.NullUUID
		err := rows.Scan(
			&e.ID, &e.Kind, &role, &principalID, &identifier, &sourceAddr,
			&userAgent, &fingerprint, &e.Severity, &e.RiskScore,
			pq.Array(&e.RiskFactors), &e.Suspicious, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("security: scanning event failed: %w", err)
		}
		e.Role = principal.Role(role.String)
		if principalID.Valid {
			id := principalID.UUID
			e.PrincipalID = &id
		}
		e.Identifier = identifier.String
		e.SourceAddr = sourceAddr.String
		e.UserAgent = userAgent.String
		e.Fingerprint = fingerprint.String
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeOlderThan deletes events past the retention horizon and returns
// how many rows went.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("security: purging events failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("security: purge row count failed: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullJSON sends raw JSON as text so the driver does not encode it as
// bytea on the way into the jsonb column.
func nullJSON(d json.RawMessage) sql.NullString {
	if len(d) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(d), Valid: true}
}
