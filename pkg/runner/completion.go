package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// criteriaPollInterval is how often success criteria are evaluated.
const criteriaPollInterval = 5 * time.Second

// completionDetector watches one executing run for its hard timeout and
// for scenario success criteria. Whichever fires first wins; both timers
// stop immediately after.
type completionDetector struct {
	runner   *Runner
	ar       *activeRun
	duration time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newCompletionDetector(r *Runner, ar *activeRun, duration time.Duration) *completionDetector {
	return &completionDetector{
		runner:   r,
		ar:       ar,
		duration: duration,
		stopCh:   make(chan struct{}),
	}
}

func (d *completionDetector) start() {
	d.runner.wg.Add(1)
	go func() {
		defer d.runner.wg.Done()
		d.watch()
	}()
}

// stop halts both timers. Idempotent.
func (d *completionDetector) stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *completionDetector) watch() {
	deadline := time.NewTimer(d.duration)
	defer deadline.Stop()
	poll := time.NewTicker(criteriaPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-d.ar.ctx.Done():
			return
		case <-deadline.C:
			slog.Info("Test reached hard timeout", "test_id", d.ar.testID)
			d.stop()
			d.runner.triggerCompletion(d.ar, models.ReasonTimeout)
			return
		case <-poll.C:
			if reason, done := d.evaluate(); done {
				d.stop()
				d.runner.triggerCompletion(d.ar, reason)
				return
			}
		}
	}
}

// evaluate checks the scenario's success criteria against the current
// metrics. Nil criteria fields are skipped.
func (d *completionDetector) evaluate() (models.CompletionReason, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), criteriaPollInterval)
	defer cancel()

	run, err := d.runner.repo.FindByID(ctx, d.ar.testID)
	if err != nil {
		slog.Warn("Criteria poll could not load run", "test_id", d.ar.testID, "error", err)
		return "", false
	}
	if run.Status != models.StatusExecuting {
		return "", false
	}

	criteria := d.ar.scenario.SuccessCriteria
	m := run.Metrics

	if criteria.MinCooperativeActions != nil &&
		m.TargetActionCount >= int64(*criteria.MinCooperativeActions) &&
		(!criteria.RequiresDiscordCommunication || m.TargetMessageCount > 0) {
		return models.ReasonSuccess, true
	}

	// Ten successful game actions approximate one completed task.
	if criteria.MinTasksCompleted != nil &&
		m.TargetActionCount >= int64(10*(*criteria.MinTasksCompleted)) {
		return models.ReasonSuccess, true
	}

	if criteria.MaxLLMErrorRate != nil && m.LLMDecisionCount > 10 {
		rate := float64(m.LLMErrorCount) / float64(m.LLMDecisionCount)
		if rate > *criteria.MaxLLMErrorRate {
			slog.Warn("LLM error rate exceeded threshold",
				"test_id", d.ar.testID, "rate", rate, "threshold", *criteria.MaxLLMErrorRate)
			return models.ReasonAllAgentsFailed, true
		}
	}

	return "", false
}
