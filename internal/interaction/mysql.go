package interaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// DurableStore persists promoted interactions, negative feedback, and
// daily aggregates in MySQL.
type DurableStore struct {
	db *sql.DB
}

var _ Archive = (*DurableStore)(nil)

// NewDurableStore opens a MySQL pool from a go-sql-driver DSN and
// verifies connectivity.
func NewDurableStore(dsn string, poolSize int) (*DurableStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("interaction: mysql dsn is required")
	}
	if poolSize <= 0 {
		poolSize = 5
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("interaction: open mysql: %w", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("interaction: ping mysql: %w", err)
	}
	return &DurableStore{db: db}, nil
}

// Close releases the pool.
func (s *DurableStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS interactions (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		interaction_id VARCHAR(64) NOT NULL,
		session_id VARCHAR(128) NOT NULL,
		user_message TEXT,
		final_response TEXT,
		routing_type VARCHAR(32) NOT NULL,
		tools_used JSON NULL,
		tool_results JSON NULL,
		llm_payload JSON NULL,
		llm_response TEXT,
		debug_info JSON NULL,
		feedback VARCHAR(16) NOT NULL DEFAULT 'thumbs_up',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uniq_interaction (interaction_id),
		KEY idx_interactions_session (session_id),
		KEY idx_interactions_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS negative_feedback (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		interaction_id VARCHAR(64) NOT NULL,
		session_id VARCHAR(128) NOT NULL,
		user_message TEXT,
		final_response TEXT,
		routing_type VARCHAR(32) NOT NULL,
		tools_used JSON NULL,
		reason VARCHAR(255) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_negative_session (session_id),
		KEY idx_negative_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS feedback_stats (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		stat_date DATE NOT NULL,
		total_interactions INT NOT NULL DEFAULT 0,
		thumbs_up INT NOT NULL DEFAULT 0,
		thumbs_down INT NOT NULL DEFAULT 0,
		direct_shortcut INT NOT NULL DEFAULT 0,
		llm_with_tools INT NOT NULL DEFAULT 0,
		llm_only INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uniq_stat_date (stat_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the three feedback tables when they are missing.
func (s *DurableStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("interaction: ensure schema: %w", err)
		}
	}
	return nil
}

// SaveInteraction upserts a promoted interaction. The unique key on
// interaction_id makes repeated thumbs-up submissions converge on a
// single row.
func (s *DurableStore) SaveInteraction(ctx context.Context, in *Interaction) error {
	toolsUsed, err := jsonOrNull(in.ToolsUsed, len(in.ToolsUsed) > 0)
	if err != nil {
		return fmt.Errorf("interaction: encode tools_used: %w", err)
	}
	toolResults, err := jsonOrNull(in.ToolResults, len(in.ToolResults) > 0)
	if err != nil {
		return fmt.Errorf("interaction: encode tool_results: %w", err)
	}
	llmPayload, err := jsonOrNull(in.LLMPayload, len(in.LLMPayload) > 0)
	if err != nil {
		return fmt.Errorf("interaction: encode llm_payload: %w", err)
	}
	debugInfo, err := jsonOrNull(in.Debug, len(in.Debug) > 0)
	if err != nil {
		return fmt.Errorf("interaction: encode debug_info: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions
			(interaction_id, session_id, user_message, final_response, routing_type,
			 tools_used, tool_results, llm_payload, llm_response, debug_info, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			feedback = VALUES(feedback),
			updated_at = CURRENT_TIMESTAMP
	`,
		in.InteractionID,
		in.SessionID,
		in.UserMessage,
		in.FinalResponse,
		string(in.RoutingType),
		toolsUsed,
		toolResults,
		llmPayload,
		nullableString(in.LLMResponse),
		debugInfo,
		string(in.Feedback),
		in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("interaction: save interaction: %w", err)
	}
	return nil
}

// SaveNegativeFeedback records a thumbs-down verdict for offline
// analysis. Plain insert; every submission is its own row.
func (s *DurableStore) SaveNegativeFeedback(ctx context.Context, in *Interaction, reason string) error {
	toolsUsed, err := jsonOrNull(in.ToolsUsed, len(in.ToolsUsed) > 0)
	if err != nil {
		return fmt.Errorf("interaction: encode tools_used: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO negative_feedback
			(interaction_id, session_id, user_message, final_response, routing_type, tools_used, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		in.InteractionID,
		in.SessionID,
		in.UserMessage,
		in.FinalResponse,
		string(in.RoutingType),
		toolsUsed,
		reason,
	)
	if err != nil {
		return fmt.Errorf("interaction: save negative feedback: %w", err)
	}
	return nil
}

// DailyStats are the per-day aggregates kept in feedback_stats.
type DailyStats struct {
	Date              time.Time
	TotalInteractions int
	ThumbsUp          int
	ThumbsDown        int
	DirectShortcut    int
	LLMWithTools      int
	LLMOnly           int
}

// CollectDailyStats computes the aggregates for the calendar day of the
// given time from the two verdict tables.
func (s *DurableStore) CollectDailyStats(ctx context.Context, day time.Time) (*DailyStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	stats := &DailyStats{Date: start}

	up, err := s.countByRoutingType(ctx, "interactions", start, end)
	if err != nil {
		return nil, err
	}
	down, err := s.countByRoutingType(ctx, "negative_feedback", start, end)
	if err != nil {
		return nil, err
	}

	for routing, n := range up {
		stats.ThumbsUp += n
		stats.addRouting(routing, n)
	}
	for routing, n := range down {
		stats.ThumbsDown += n
		stats.addRouting(routing, n)
	}
	stats.TotalInteractions = stats.ThumbsUp + stats.ThumbsDown
	return stats, nil
}

func (st *DailyStats) addRouting(routing string, n int) {
	switch RoutingType(routing) {
	case RoutingDirectShortcut:
		st.DirectShortcut += n
	case RoutingLLMWithTools:
		st.LLMWithTools += n
	case RoutingLLMOnly:
		st.LLMOnly += n
	}
}

func (s *DurableStore) countByRoutingType(ctx context.Context, table string, start, end time.Time) (map[string]int, error) {
	// table is one of two package-internal constants, never user input.
	query := fmt.Sprintf(
		"SELECT routing_type, COUNT(*) FROM %s WHERE created_at >= ? AND created_at < ? GROUP BY routing_type",
		table,
	)
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("interaction: count %s: %w", table, err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var routing string
		var n int
		if err := rows.Scan(&routing, &n); err != nil {
			return nil, fmt.Errorf("interaction: scan %s count: %w", table, err)
		}
		counts[routing] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interaction: count %s: %w", table, err)
	}
	return counts, nil
}

// UpsertDailyStats writes the aggregates for stats.Date. The date-unique
// key means rerunning a day replaces its row instead of adding another.
func (s *DurableStore) UpsertDailyStats(ctx context.Context, stats *DailyStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_stats
			(stat_date, total_interactions, thumbs_up, thumbs_down, direct_shortcut, llm_with_tools, llm_only)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			total_interactions = VALUES(total_interactions),
			thumbs_up = VALUES(thumbs_up),
			thumbs_down = VALUES(thumbs_down),
			direct_shortcut = VALUES(direct_shortcut),
			llm_with_tools = VALUES(llm_with_tools),
			llm_only = VALUES(llm_only),
			updated_at = CURRENT_TIMESTAMP
	`,
		stats.Date.Format("2006-01-02"),
		stats.TotalInteractions,
		stats.ThumbsUp,
		stats.ThumbsDown,
		stats.DirectShortcut,
		stats.LLMWithTools,
		stats.LLMOnly,
	)
	if err != nil {
		return fmt.Errorf("interaction: upsert daily stats: %w", err)
	}
	return nil
}

func jsonOrNull(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
