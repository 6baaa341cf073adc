package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// metricColumns maps the API metric field names to counter columns.
var metricColumns = map[string]string{
	models.MetricLLMDecisionCount:        "llm_decision_count",
	models.MetricTargetActionCount:       "target_action_count",
	models.MetricTestingAgentActionCount: "testing_agent_action_count",
	models.MetricTargetMessageCount:      "target_message_count",
	models.MetricTestingAgentMsgCount:    "testing_agent_message_count",
	models.MetricLLMErrorCount:           "llm_error_count",
	models.MetricTotalLLMResponseTimeMs:  "total_llm_response_time_ms",
}

// PostgresStore is the durable Repository backed by PostgreSQL via pgx.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool, runs migrations and returns
// the store.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying pool for health checks.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func runMigrations(db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

const runColumns = `test_id, scenario_type, status, target_llm_model,
	testing_agent_profiles, testing_agent_ids, target_agent_id, target_bot_id,
	discord_text_channel_id, discord_voice_channel_id, duration_seconds,
	created_at, started_at, ended_at, completion_reason, config,
	llm_decision_count, target_action_count, testing_agent_action_count,
	target_message_count, testing_agent_message_count, llm_error_count,
	total_llm_response_time_ms, last_llm_decision_at`

// Create inserts a new run.
func (s *PostgresStore) Create(ctx context.Context, run *models.TestRun) error {
	profiles, err := json.Marshal(run.TestingAgentProfiles)
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	agentIDs, err := json.Marshal(run.TestingAgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO test_runs (test_id, scenario_type, status, target_llm_model,
			testing_agent_profiles, testing_agent_ids, target_agent_id, target_bot_id,
			discord_text_channel_id, discord_voice_channel_id, duration_seconds,
			created_at, started_at, ended_at, completion_reason, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		run.TestID, run.ScenarioType, run.Status, run.TargetLLMModel,
		profiles, agentIDs, run.TargetAgentID, run.TargetBotID,
		run.DiscordTextChannelID, run.DiscordVoiceChannelID, run.DurationSeconds,
		run.CreatedAt, run.StartedAt, run.EndedAt, string(run.CompletionReason), cfg,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test run: %w", err)
	}
	return nil
}

// FindByID loads one run.
func (s *PostgresStore) FindByID(ctx context.Context, testID string) (*models.TestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM test_runs WHERE test_id = $1`, testID)
	return scanRun(row)
}

// FindAll returns matching runs sorted by created_at descending.
func (s *PostgresStore) FindAll(ctx context.Context, filters models.TestFilters) ([]*models.TestRun, error) {
	query := `SELECT ` + runColumns + ` FROM test_runs WHERE 1=1`
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.ScenarioType != "" {
		args = append(args, string(filters.ScenarioType))
		query += fmt.Sprintf(" AND scenario_type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query test runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Update writes the structural fields of a run. Counter columns are only
// touched by IncrementMetric / UpdateMetricTimestamp.
func (s *PostgresStore) Update(ctx context.Context, run *models.TestRun) error {
	profiles, err := json.Marshal(run.TestingAgentProfiles)
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	agentIDs, err := json.Marshal(run.TestingAgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE test_runs SET scenario_type = $2, status = $3, target_llm_model = $4,
			testing_agent_profiles = $5, testing_agent_ids = $6, target_agent_id = $7,
			target_bot_id = $8, discord_text_channel_id = $9, discord_voice_channel_id = $10,
			duration_seconds = $11, started_at = $12, ended_at = $13,
			completion_reason = $14, config = $15
		WHERE test_id = $1`,
		run.TestID, run.ScenarioType, run.Status, run.TargetLLMModel,
		profiles, agentIDs, run.TargetAgentID, run.TargetBotID,
		run.DiscordTextChannelID, run.DiscordVoiceChannelID, run.DurationSeconds,
		run.StartedAt, run.EndedAt, string(run.CompletionReason), cfg,
	)
	if err != nil {
		return fmt.Errorf("failed to update test run: %w", err)
	}
	return mustAffect(res)
}

// Transition persists run only when the stored status still equals from,
// in one conditional UPDATE. Zero affected rows means either a lost race
// or a missing run; the follow-up existence check disambiguates.
func (s *PostgresStore) Transition(ctx context.Context, run *models.TestRun, from models.TestStatus) error {
	profiles, err := json.Marshal(run.TestingAgentProfiles)
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	agentIDs, err := json.Marshal(run.TestingAgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE test_runs SET scenario_type = $2, status = $3, target_llm_model = $4,
			testing_agent_profiles = $5, testing_agent_ids = $6, target_agent_id = $7,
			target_bot_id = $8, discord_text_channel_id = $9, discord_voice_channel_id = $10,
			duration_seconds = $11, started_at = $12, ended_at = $13,
			completion_reason = $14, config = $15
		WHERE test_id = $1 AND status = $16`,
		run.TestID, run.ScenarioType, run.Status, run.TargetLLMModel,
		profiles, agentIDs, run.TargetAgentID, run.TargetBotID,
		run.DiscordTextChannelID, run.DiscordVoiceChannelID, run.DurationSeconds,
		run.StartedAt, run.EndedAt, string(run.CompletionReason), cfg,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition test run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		exists, err := s.Exists(ctx, run.TestID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleStatus
	}
	return nil
}

// Delete removes a run; action logs cascade.
func (s *PostgresStore) Delete(ctx context.Context, testID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM test_runs WHERE test_id = $1`, testID)
	if err != nil {
		return fmt.Errorf("failed to delete test run: %w", err)
	}
	return mustAffect(res)
}

// CreateActionLog appends a log entry.
func (s *PostgresStore) CreateActionLog(ctx context.Context, log *models.ActionLog) error {
	var metadata []byte
	if log.Metadata != nil {
		var err error
		metadata, err = json.Marshal(log.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal log metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_logs (log_id, test_id, source_agent_id, source_type,
			action_category, action_detail, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.LogID, log.TestID, log.SourceAgentID, log.SourceType,
		log.ActionCategory, log.ActionDetail, log.Timestamp, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", err)
	}
	return nil
}

// FindActionLogs returns the newest entries first.
func (s *PostgresStore) FindActionLogs(ctx context.Context, testID string, limit int) ([]*models.ActionLog, error) {
	query := `SELECT log_id, test_id, source_agent_id, source_type, action_category,
		action_detail, ts, metadata FROM action_logs WHERE test_id = $1 ORDER BY ts DESC`
	args := []any{testID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query action logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ActionLog
	for rows.Next() {
		var (
			log      models.ActionLog
			metadata []byte
		)
		if err := rows.Scan(&log.LogID, &log.TestID, &log.SourceAgentID, &log.SourceType,
			&log.ActionCategory, &log.ActionDetail, &log.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &log.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log metadata: %w", err)
			}
		}
		out = append(out, &log)
	}
	return out, rows.Err()
}

// Count returns the total number of runs.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_runs`).Scan(&n)
	return n, err
}

// Exists reports whether a run is stored.
func (s *PostgresStore) Exists(ctx context.Context, testID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM test_runs WHERE test_id = $1)`, testID).Scan(&exists)
	return exists, err
}

// CountActive counts runs in active states.
func (s *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM test_runs
		WHERE status IN ('initializing', 'coordination', 'executing', 'completing')`).Scan(&n)
	return n, err
}

// IncrementMetric adds delta to a counter column in a single arithmetic
// UPDATE, so concurrent writers cannot lose updates.
func (s *PostgresStore) IncrementMetric(ctx context.Context, testID, field string, delta int64) error {
	col, ok := metricColumns[field]
	if !ok {
		return ErrUnknownMetric
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE test_runs SET %s = %s + $1 WHERE test_id = $2`, col, col),
		delta, testID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", field, err)
	}
	return mustAffect(res)
}

// UpdateMetricTimestamp writes a timestamp metric field without reading
// the rest of the record.
func (s *PostgresStore) UpdateMetricTimestamp(ctx context.Context, testID, field string, value time.Time) error {
	if field != models.MetricLastLLMDecisionAt {
		return ErrUnknownMetric
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE test_runs SET last_llm_decision_at = $1 WHERE test_id = $2`,
		value, testID,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", field, err)
	}
	return mustAffect(res)
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.TestRun, error) {
	var (
		run              models.TestRun
		profiles         []byte
		agentIDs         []byte
		cfg              []byte
		startedAt        sql.NullTime
		endedAt          sql.NullTime
		completionReason string
		lastDecisionAt   sql.NullTime
	)
	err := row.Scan(&run.TestID, &run.ScenarioType, &run.Status, &run.TargetLLMModel,
		&profiles, &agentIDs, &run.TargetAgentID, &run.TargetBotID,
		&run.DiscordTextChannelID, &run.DiscordVoiceChannelID, &run.DurationSeconds,
		&run.CreatedAt, &startedAt, &endedAt, &completionReason, &cfg,
		&run.Metrics.LLMDecisionCount, &run.Metrics.TargetActionCount,
		&run.Metrics.TestingAgentActionCount, &run.Metrics.TargetMessageCount,
		&run.Metrics.TestingAgentMessageCount, &run.Metrics.LLMErrorCount,
		&run.Metrics.TotalLLMResponseTimeMs, &lastDecisionAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan test run: %w", err)
	}

	if err := json.Unmarshal(profiles, &run.TestingAgentProfiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profiles: %w", err)
	}
	if err := json.Unmarshal(agentIDs, &run.TestingAgentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent ids: %w", err)
	}
	if err := json.Unmarshal(cfg, &run.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	run.CompletionReason = models.CompletionReason(completionReason)
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if lastDecisionAt.Valid {
		t := lastDecisionAt.Time
		run.Metrics.LastLLMDecisionAt = &t
	}
	return &run, nil
}
