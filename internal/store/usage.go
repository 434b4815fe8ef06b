// ABOUTME: Token usage tracking per completed turn
// ABOUTME: Stores and aggregates model token consumption for per-user analytics

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SaveUsage stores a turn usage record.
func (s *SQLStore) SaveUsage(ctx context.Context, usage *TurnUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = s.now()
	}

	query := `
		INSERT INTO turn_usage (
			id, thread_id, turn_id, user_id, model_id,
			input_tokens, output_tokens, latency_ms, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		usage.ID,
		usage.ThreadID,
		usage.TurnID,
		usage.UserID,
		usage.ModelID,
		usage.InputTokens,
		usage.OutputTokens,
		usage.LatencyMS,
		formatTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved turn usage",
		"id", usage.ID,
		"thread_id", usage.ThreadID,
		"model_id", usage.ModelID,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

// GetThreadUsage retrieves all usage records for a thread owned by userID.
func (s *SQLStore) GetThreadUsage(ctx context.Context, threadID, userID string) ([]*TurnUsage, error) {
	query := `
		SELECT id, thread_id, turn_id, user_id, model_id,
		       input_tokens, output_tokens, latency_ms, created_at
		FROM turn_usage
		WHERE thread_id = ? AND user_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), threadID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying thread usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*TurnUsage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usages, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output,
			COALESCE(AVG(latency_ms), 0) as avg_latency,
			COUNT(*) as turn_count
		FROM turn_usage
		WHERE 1=1
	`
	args := []any{}

	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}
	if filter.ThreadID != nil {
		query += " AND thread_id = ?"
		args = append(args, *filter.ThreadID)
	}
	if filter.ModelID != nil {
		query += " AND model_id = ?"
		args = append(args, *filter.ModelID)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, formatTime(*filter.Until))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(
		&stats.TotalInput,
		&stats.TotalOutput,
		&stats.AvgLatencyMS,
		&stats.TurnCount,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	stats.TotalTokens = stats.TotalInput + stats.TotalOutput

	return &stats, nil
}

// scanUsage scans a single usage row into a TurnUsage struct.
func scanUsage(rows *sql.Rows) (*TurnUsage, error) {
	var usage TurnUsage
	var createdAtStr string

	err := rows.Scan(
		&usage.ID,
		&usage.ThreadID,
		&usage.TurnID,
		&usage.UserID,
		&usage.ModelID,
		&usage.InputTokens,
		&usage.OutputTokens,
		&usage.LatencyMS,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	usage.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &usage, nil
}

// Ensure SQLStore implements UsageStore interface.
var _ UsageStore = (*SQLStore)(nil)
