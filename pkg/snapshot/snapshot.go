// Package snapshot runs the daily agent rollup job: for every agent in
// a workspace it computes trailing trust and learning-activity metrics
// and writes exactly one snapshot row per (workspace, agent, date).
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/agentctl/sentryd/pkg/broker"
	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/metrics"
	"github.com/agentctl/sentryd/pkg/store"
	"github.com/agentctl/sentryd/pkg/uow"
)

// DefaultSchedule runs the job once a day at 00:15 UTC, after the day
// it's summarizing has fully elapsed.
const DefaultSchedule = "15 0 * * *"

// Result is the outcome of one Run invocation.
type Result struct {
	WorkspacesConsidered int `json:"workspaces_considered"`
	AgentsConsidered     int `json:"agents_considered"`
	SnapshotsWritten     int `json:"snapshots_written"`
	Skipped              int `json:"skipped"`
}

// Job computes and persists daily agent snapshots across every
// workspace that has registered agents.
type Job struct {
	db       *sqlx.DB
	store    *store.Store
	log      *eventlog.Log
	broker   *broker.Broker
	schedule cron.Schedule

	mu       sync.Mutex
	cancel   context.CancelFunc
	lastRun  time.Time
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a snapshot Job. scheduleExpr is a standard five-field
// cron expression; DefaultSchedule is used if empty.
func New(db *sqlx.DB, st *store.Store, log *eventlog.Log, br *broker.Broker, scheduleExpr string) (*Job, error) {
	if scheduleExpr == "" {
		scheduleExpr = DefaultSchedule
	}
	sched, err := cron.ParseStandard(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot schedule: %w", err)
	}
	return &Job{db: db, store: st, log: log, broker: br, schedule: sched}, nil
}

// Start runs the job's check loop in a goroutine: every tick it asks
// the cron schedule whether a run is due and, if so, runs it for
// yesterday (UTC). Safe to call once; a second call is a no-op.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	if j.cancel != nil {
		j.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				j.maybeRun(loopCtx, now.UTC())
			}
		}
	}()
}

// Stop halts the check loop and waits for any in-flight run to finish.
func (j *Job) Stop() {
	j.stopOnce.Do(func() {
		j.mu.Lock()
		cancel := j.cancel
		j.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	j.wg.Wait()
}

func (j *Job) maybeRun(ctx context.Context, now time.Time) {
	j.mu.Lock()
	anchor := j.lastRun
	j.mu.Unlock()
	if anchor.IsZero() {
		anchor = now.Add(-time.Minute)
	}

	next := j.schedule.Next(anchor)
	if next.After(now) {
		return
	}

	j.mu.Lock()
	j.lastRun = now
	j.mu.Unlock()

	snapshotDate := now.AddDate(0, 0, -1).Truncate(24 * time.Hour)
	result, err := j.Run(ctx, snapshotDate)
	if err != nil {
		slog.Error("daily snapshot run failed", "error", err)
		return
	}
	slog.Info("daily snapshot run complete",
		"snapshot_date", snapshotDate.Format("2006-01-02"),
		"workspaces_considered", result.WorkspacesConsidered,
		"agents_considered", result.AgentsConsidered, "snapshots_written", result.SnapshotsWritten)
}

// Run computes and upserts one snapshot per agent, for every workspace
// with registered agents, for the given date. Each agent gets its own
// Unit-of-Work, emitting daily.agent.snapshot only for rows actually
// written (UpsertAgentSnapshot is a no-op on conflict).
func (j *Job) Run(ctx context.Context, date time.Time) (Result, error) {
	workspaceIDs, err := j.store.ListWorkspaceIDs(ctx, j.db)
	if err != nil {
		return Result{}, fmt.Errorf("list workspaces: %w", err)
	}

	result := Result{WorkspacesConsidered: len(workspaceIDs)}
	for _, workspaceID := range workspaceIDs {
		agentIDs, err := j.store.ListAgentIDs(ctx, j.db, workspaceID)
		if err != nil {
			slog.Error("list agents failed", "workspace_id", workspaceID, "error", err)
			continue
		}
		result.AgentsConsidered += len(agentIDs)
		for _, agentID := range agentIDs {
			written, err := j.snapshotAgent(ctx, workspaceID, agentID, date)
			if err != nil {
				slog.Error("agent snapshot failed", "workspace_id", workspaceID, "agent_id", agentID, "error", err)
				continue
			}
			if written {
				result.SnapshotsWritten++
			} else {
				result.Skipped++
			}
		}
	}
	return result, nil
}

func (j *Job) snapshotAgent(ctx context.Context, workspaceID, agentID string, date time.Time) (bool, error) {
	u, err := uow.Begin(ctx, j.db, j.log, j.broker)
	if err != nil {
		return false, err
	}
	defer func() { _ = u.Rollback() }()

	snapMetrics, err := j.store.ComputeAgentSnapshotMetrics(ctx, u.Tx(), workspaceID, agentID, date)
	if err != nil {
		return false, fmt.Errorf("compute metrics: %w", err)
	}

	rows, err := j.store.UpsertAgentSnapshot(ctx, u.Tx(), workspaceID, agentID, date, snapMetrics)
	if err != nil {
		return false, fmt.Errorf("upsert snapshot: %w", err)
	}
	if rows == 0 {
		return false, u.Rollback() // already snapshotted for this date
	}

	data, _ := json.Marshal(map[string]any{
		"snapshot_date":             date.Format("2006-01-02"),
		"trust_score":               snapMetrics.TrustScore,
		"autonomy_rate":             snapMetrics.AutonomyRate,
		"learning_events_count":     snapMetrics.LearningEventsCount,
		"constraints_learned_count": snapMetrics.ConstraintsLearnedCount,
		"mistakes_repeated_count":   snapMetrics.MistakesRepeatedCount,
		"quarantine_triggered":      snapMetrics.QuarantineTriggered,
	})
	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:    eventlog.StreamAgent,
		StreamID:      agentID,
		EventType:     eventlog.EventTypeDailyAgentSnapshot,
		WorkspaceID:   workspaceID,
		CorrelationID: fmt.Sprintf("cor_snapshot_%s_%s", agentID, date.Format("2006-01-02")),
		Data:          json.RawMessage(data),
	}); err != nil {
		return false, fmt.Errorf("emit daily.agent.snapshot: %w", err)
	}

	if err := u.Commit(ctx); err != nil {
		return false, err
	}
	metrics.SnapshotsWrittenTotal.Inc()
	return true, nil
}
