package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// LogAuthEvent writes one entry of the authentication audit log.
func (p *PostgresClient) LogAuthEvent(ctx context.Context, eventType, username, ipAddress, userAgent string, success bool, reason string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_events (id, event_type, username, ip_address, user_agent, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), eventType, username, ipAddress, userAgent, success, reason)
	if err != nil {
		return fmt.Errorf("failed to log auth event: %w", err)
	}
	return nil
}

// ListAuthEvents returns the most recent authentication events, newest first.
func (p *PostgresClient) ListAuthEvents(ctx context.Context, limit int) ([]AuthEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, event_type, username, ip_address, user_agent, success, reason, created_at
		FROM auth_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	events := make([]AuthEvent, 0)
	for rows.Next() {
		var e AuthEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Username, &e.IPAddress, &e.UserAgent, &e.Success, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
