package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/CrateManager/internal/manager"
)

// RecordTransition appends one executed lifecycle command to the log.
func (p *PostgresClient) RecordTransition(ctx context.Context, rec manager.TransitionRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("invalid transition id %q: %w", rec.ID, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO crate_transitions (id, command, from_state, to_state, result, failed_slot, error, started_at, duration_us)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, string(rec.Command), string(rec.From), string(rec.To), rec.Result,
		rec.FailedSlot, rec.Error, rec.StartedAt, rec.Duration.Microseconds())
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// ListTransitions returns the most recent transitions, newest first.
func (p *PostgresClient) ListTransitions(ctx context.Context, limit int) ([]manager.TransitionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, command, from_state, to_state, result, failed_slot, error, started_at, duration_us
		FROM crate_transitions
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	records := make([]manager.TransitionRecord, 0)
	for rows.Next() {
		var (
			rec            manager.TransitionRecord
			id             uuid.UUID
			cmd, from, to  string
			durationMicros int64
		)
		if err := rows.Scan(&id, &cmd, &from, &to, &rec.Result, &rec.FailedSlot, &rec.Error, &rec.StartedAt, &durationMicros); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		rec.ID = id.String()
		rec.Command = manager.Command(cmd)
		rec.From = manager.State(from)
		rec.To = manager.State(to)
		rec.Duration = time.Duration(durationMicros) * time.Microsecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transitions: %w", err)
	}

	return records, nil
}
