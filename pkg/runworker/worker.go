// Package runworker claims queued runs using database-backed leases
// and drives them through the egress controller to a terminal state.
// Workers are safely re-entrant: claiming uses SELECT ... FOR UPDATE
// SKIP LOCKED so at most one worker ever holds a given run, and a
// crashed worker's lease is reclaimed by the stale-lease sweep.
package runworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/broker"
	"github.com/agentctl/sentryd/pkg/egress"
	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/learning"
	"github.com/agentctl/sentryd/pkg/metrics"
	"github.com/agentctl/sentryd/pkg/policy"
	"github.com/agentctl/sentryd/pkg/store"
	"github.com/agentctl/sentryd/pkg/uow"
)

// DefaultLeaseTTL bounds how long a claimed run may stay "running"
// before SweepStaleLeases reclaims it for another worker.
const DefaultLeaseTTL = 5 * time.Minute

// DefaultBatchLimit is the number of runs claimed per cycle when the
// caller does not specify one.
const DefaultBatchLimit = 10

// RuntimeInput is the shape of a run's `input` column this worker
// understands: today, a single declared egress call.
type RuntimeInput struct {
	Runtime struct {
		Egress *EgressDescriptor `json:"egress"`
	} `json:"runtime"`
}

// EgressDescriptor names the one outbound call a run wants made.
type EgressDescriptor struct {
	Action    string `json:"action"`
	TargetURL string `json:"target_url"`
	Method    string `json:"method"`
}

// Result is the outcome of one RunCycle call.
type Result struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Worker claims and processes queued runs.
type Worker struct {
	id         string
	db         *sqlx.DB
	store      *store.Store
	log        *eventlog.Log
	broker     *broker.Broker
	egressCtrl *egress.Controller
	learner    *learning.Pipeline
	batchLimit int
	leaseTTL   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config configures a Worker.
type Config struct {
	ID         string
	BatchLimit int
	LeaseTTL   time.Duration
}

// New creates a run Worker.
func New(db *sqlx.DB, st *store.Store, log *eventlog.Log, br *broker.Broker, egressCtrl *egress.Controller, learner *learning.Pipeline, cfg Config) *Worker {
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	id := cfg.ID
	if id == "" {
		id = ids.New("wrk_")
	}
	return &Worker{
		id: id, db: db, store: st, log: log, broker: br, egressCtrl: egressCtrl, learner: learner,
		batchLimit: batchLimit, leaseTTL: leaseTTL, stopCh: make(chan struct{}),
	}
}

// Start runs a polling loop in a goroutine, invoking RunCycle every
// interval until Stop is called. It checks the stop signal between
// cycles and lets an in-flight cycle finish before exiting.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.RunCycle(ctx); err != nil {
					slog.Error("run worker cycle failed", "worker_id", w.id, "error", err)
				}
				if n, err := w.store.SweepStaleLeases(ctx, w.db); err != nil {
					slog.Error("stale lease sweep failed", "worker_id", w.id, "error", err)
				} else if n > 0 {
					slog.Warn("reclaimed stale run leases", "worker_id", w.id, "count", n)
				}
			}
		}
	}()
}

// Stop signals the polling loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// RunCycle claims up to the configured batch limit of queued runs and
// processes each to a terminal state, one Unit-of-Work per run.
func (w *Worker) RunCycle(ctx context.Context) (Result, error) {
	claimed, err := w.claim(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("claim queued runs: %w", err)
	}

	result := Result{Claimed: len(claimed)}
	for _, run := range claimed {
		outcome, err := w.processRun(ctx, run)
		if err != nil {
			slog.Error("processing claimed run failed", "run_id", run.RunID, "error", err)
			result.Failed++
			continue
		}
		switch outcome {
		case store.RunSucceeded:
			result.Completed++
		case store.RunFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}
	metrics.RecordRunCycle(result.Claimed, result.Completed, result.Failed, result.Skipped)
	return result, nil
}

// claim runs the lease-acquisition transaction by itself, separate
// from per-run processing, so a slow egress call never holds the
// claim-time row locks.
func (w *Worker) claim(ctx context.Context) ([]store.Run, error) {
	u, err := uow.Begin(ctx, w.db, w.log, w.broker)
	if err != nil {
		return nil, err
	}

	runs, err := w.store.ClaimQueuedRuns(ctx, u.Tx(), w.id, w.batchLimit, w.leaseTTL)
	if err != nil {
		_ = u.Rollback()
		return nil, err
	}
	if err := u.Commit(ctx); err != nil {
		return nil, err
	}
	return runs, nil
}

// processRun executes one claimed run end to end inside its own
// Unit-of-Work and returns the terminal status it reached.
func (w *Worker) processRun(ctx context.Context, run store.Run) (string, error) {
	u, err := uow.Begin(ctx, w.db, w.log, w.broker)
	if err != nil {
		return "", err
	}
	defer func() { _ = u.Rollback() }()

	startEvt, err := u.Append(ctx, eventlog.Append{
		StreamType:    runStreamType(run),
		StreamID:      runStreamID(run),
		EventType:     eventlog.EventTypeRunStarted,
		WorkspaceID:   run.WorkspaceID,
		RoomID:        run.RoomID,
		RunID:         &run.RunID,
		CorrelationID: run.CorrelationID,
	})
	if err != nil {
		return "", fmt.Errorf("emit run.started: %w", err)
	}
	if err := w.store.StartRun(ctx, u.Tx(), run.RunID, startEvt.EventID); err != nil {
		return "", err
	}

	var input RuntimeInput
	if len(run.Input) > 0 {
		if err := json.Unmarshal(run.Input, &input); err != nil {
			return "", fmt.Errorf("parse run input: %w", err)
		}
	}

	if input.Runtime.Egress == nil {
		status, err := w.complete(ctx, u, run, store.RunSucceeded, json.RawMessage(`{}`), nil, nil, &startEvt.EventID)
		if err != nil {
			return "", err
		}
		return status, u.Commit(ctx)
	}

	desc := input.Runtime.Egress
	reqInput, _ := json.Marshal(map[string]any{"target_url": desc.TargetURL, "method": desc.Method})
	toolCall, err := w.store.CreateToolCall(ctx, u.Tx(), run.WorkspaceID, run.RunID, "egress.request", reqInput)
	if err != nil {
		return "", fmt.Errorf("create tool call: %w", err)
	}

	egressResult, err := w.egressCtrl.Evaluate(ctx, u, w.learner, egress.Request{
		WorkspaceID:   run.WorkspaceID,
		RunID:         &run.RunID,
		Action:        desc.Action,
		TargetURL:     desc.TargetURL,
		Method:        desc.Method,
		ActorType:     "service",
		ActorID:       w.id,
		RoomID:        run.RoomID,
		CorrelationID: run.CorrelationID,
		CausationID:   &startEvt.EventID,
	})
	if err != nil {
		return "", fmt.Errorf("evaluate egress: %w", err)
	}

	toolOutput, _ := json.Marshal(map[string]any{"decision": egressResult.Decision, "target_domain": egressResult.TargetDomain})

	if egressResult.Decision == policy.Allow {
		if err := w.store.CompleteToolCall(ctx, u.Tx(), toolCall.ID, "succeeded", toolOutput, nil); err != nil {
			return "", err
		}
		status, err := w.complete(ctx, u, run, store.RunSucceeded, toolOutput, nil, nil, &startEvt.EventID)
		if err != nil {
			return "", err
		}
		return status, u.Commit(ctx)
	}

	if err := w.store.CompleteToolCall(ctx, u.Tx(), toolCall.ID, "failed", toolOutput, &egressResult.ReasonCode); err != nil {
		return "", err
	}
	errMsg := fmt.Sprintf("egress %s: %s", egressResult.Decision, egressResult.ReasonCode)
	status, err := w.complete(ctx, u, run, store.RunFailed, toolOutput, &errMsg, &egressResult.ReasonCode, &startEvt.EventID)
	if err != nil {
		return "", err
	}
	return status, u.Commit(ctx)
}

func (w *Worker) complete(ctx context.Context, u *uow.UnitOfWork, run store.Run, status string, output json.RawMessage, errMsg, reasonCode *string, causationID *string) (string, error) {
	eventType := eventlog.EventTypeRunSucceeded
	if status == store.RunFailed {
		eventType = eventlog.EventTypeRunFailed
	}

	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:    runStreamType(run),
		StreamID:      runStreamID(run),
		EventType:     eventType,
		WorkspaceID:   run.WorkspaceID,
		RoomID:        run.RoomID,
		RunID:         &run.RunID,
		CorrelationID: run.CorrelationID,
		CausationID:   causationID,
		Data: map[string]any{
			"status":      status,
			"reason_code": reasonCode,
		},
	})
	if err != nil {
		return "", fmt.Errorf("emit run terminal event: %w", err)
	}

	if err := w.store.CompleteRun(ctx, u.Tx(), run.RunID, status, output, errMsg, reasonCode, evt.EventID); err != nil {
		return "", err
	}
	return status, nil
}

func runStreamType(run store.Run) string {
	if run.RoomID != nil {
		return eventlog.StreamRoom
	}
	return eventlog.StreamRun
}

func runStreamID(run store.Run) string {
	if run.RoomID != nil {
		return *run.RoomID
	}
	return run.RunID
}
