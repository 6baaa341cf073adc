// Package storage provides the test-run repository: an in-memory backend
// for single-process use and a PostgreSQL backend for durable storage.
// The engine only ever sees the Repository interface.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// ErrNotFound is returned when a test run does not exist.
var ErrNotFound = errors.New("test run not found")

// ErrUnknownMetric is returned for a metric field name the schema does not know.
var ErrUnknownMetric = errors.New("unknown metric field")

// ErrStaleStatus is returned by Transition when the stored status no
// longer matches the caller's expectation: a concurrent writer won.
var ErrStaleStatus = errors.New("test run status changed concurrently")

// Repository is the single authority for TestRun state.
//
// IncrementMetric must be free of lost-update races under concurrent
// writers: the memory backend performs the read-modify-write in one
// critical section, the SQL backend in one arithmetic UPDATE.
type Repository interface {
	Create(ctx context.Context, run *models.TestRun) error
	FindByID(ctx context.Context, testID string) (*models.TestRun, error)
	// FindAll returns runs matching the filters, sorted by createdAt descending.
	FindAll(ctx context.Context, filters models.TestFilters) ([]*models.TestRun, error)
	Update(ctx context.Context, run *models.TestRun) error
	// Transition persists run like Update, but only when the stored
	// status still equals from; otherwise it returns ErrStaleStatus and
	// writes nothing. This is the compare-and-swap state transitions
	// rely on.
	Transition(ctx context.Context, run *models.TestRun, from models.TestStatus) error
	Delete(ctx context.Context, testID string) error

	CreateActionLog(ctx context.Context, log *models.ActionLog) error
	// FindActionLogs returns the most recent logs for a run, newest first.
	// limit <= 0 means no limit.
	FindActionLogs(ctx context.Context, testID string, limit int) ([]*models.ActionLog, error)

	Count(ctx context.Context) (int, error)
	Exists(ctx context.Context, testID string) (bool, error)
	// CountActive counts runs in an active state (initializing,
	// coordination, executing, completing).
	CountActive(ctx context.Context) (int, error)

	IncrementMetric(ctx context.Context, testID, field string, delta int64) error
	UpdateMetricTimestamp(ctx context.Context, testID, field string, value time.Time) error
}

// counterFields is the set of valid monotonic counter field names.
var counterFields = map[string]bool{
	models.MetricLLMDecisionCount:        true,
	models.MetricTargetActionCount:       true,
	models.MetricTestingAgentActionCount: true,
	models.MetricTargetMessageCount:      true,
	models.MetricTestingAgentMsgCount:    true,
	models.MetricLLMErrorCount:           true,
	models.MetricTotalLLMResponseTimeMs:  true,
}

// applyCounter adds delta to the named counter on a metrics record.
func applyCounter(m *models.TestMetrics, field string, delta int64) error {
	switch field {
	case models.MetricLLMDecisionCount:
		m.LLMDecisionCount += delta
	case models.MetricTargetActionCount:
		m.TargetActionCount += delta
	case models.MetricTestingAgentActionCount:
		m.TestingAgentActionCount += delta
	case models.MetricTargetMessageCount:
		m.TargetMessageCount += delta
	case models.MetricTestingAgentMsgCount:
		m.TestingAgentMessageCount += delta
	case models.MetricLLMErrorCount:
		m.LLMErrorCount += delta
	case models.MetricTotalLLMResponseTimeMs:
		m.TotalLLMResponseTimeMs += delta
	default:
		return ErrUnknownMetric
	}
	return nil
}
