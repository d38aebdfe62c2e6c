package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/ids"
)

// Scorecard is a row of sec_scorecards.
type Scorecard struct {
	ScorecardID  string          `db:"scorecard_id"`
	WorkspaceID  string          `db:"workspace_id"`
	AgentID      string          `db:"agent_id"`
	RunID        *string         `db:"run_id"`
	Scores       json.RawMessage `db:"scores"`
	OverallScore float64         `db:"overall_score"`
	Promote      bool            `db:"promote"`
	CreatedAt    time.Time       `db:"created_at"`
}

// Lesson is a row of sec_lessons.
type Lesson struct {
	LessonID      string          `db:"lesson_id"`
	WorkspaceID   string          `db:"workspace_id"`
	RunID         *string         `db:"run_id"`
	TemplateID    *string         `db:"template_id"`
	EvidenceRunID *string         `db:"evidence_run_id"`
	Context       json.RawMessage `db:"context"`
	LessonText    string          `db:"lesson_text"`
	CreatedAt     time.Time       `db:"created_at"`
}

// CreateScorecard inserts a scorecard row.
func (s *Store) CreateScorecard(ctx context.Context, ex Ext, workspaceID, agentID string, runID *string, scores json.RawMessage, overall float64, promote bool) (*Scorecard, error) {
	sc := &Scorecard{
		ScorecardID: ids.Scorecard(), WorkspaceID: workspaceID, AgentID: agentID, RunID: runID,
		Scores: scores, OverallScore: overall, Promote: promote, CreatedAt: time.Now().UTC(),
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sec_scorecards (scorecard_id, workspace_id, agent_id, run_id, scores, overall_score, promote, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sc.ScorecardID, sc.WorkspaceID, sc.AgentID, sc.RunID, sc.Scores, sc.OverallScore, sc.Promote, sc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert scorecard: %w", err)
	}
	return sc, nil
}

// GetScorecard loads a scorecard within a workspace.
func (s *Store) GetScorecard(ctx context.Context, ex Ext, workspaceID, scorecardID string) (*Scorecard, error) {
	var sc Scorecard
	err := sqlx.GetContext(ctx, ex, &sc, `
		SELECT scorecard_id, workspace_id, agent_id, run_id, scores, overall_score, promote, created_at
		FROM sec_scorecards WHERE workspace_id = $1 AND scorecard_id = $2`,
		workspaceID, scorecardID,
	)
	if err != nil {
		return nil, fmt.Errorf("get scorecard: %w", err)
	}
	return &sc, nil
}

// RecentScores returns an agent's trailing overall_score values, most
// recent first, used by the scorecard ScoreFunc's default implementation.
func (s *Store) RecentScores(ctx context.Context, ex Ext, workspaceID, agentID string, limit int) ([]float64, error) {
	var scores []float64
	err := sqlx.SelectContext(ctx, ex, &scores, `
		SELECT overall_score FROM sec_scorecards
		WHERE workspace_id = $1 AND agent_id = $2
		ORDER BY created_at DESC LIMIT $3`,
		workspaceID, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent scores: %w", err)
	}
	return scores, nil
}

// CreateLesson inserts a lesson row.
func (s *Store) CreateLesson(ctx context.Context, ex Ext, workspaceID string, runID, templateID, evidenceRunID *string, context json.RawMessage, text string) (*Lesson, error) {
	l := &Lesson{
		LessonID: ids.Lesson(), WorkspaceID: workspaceID, RunID: runID, TemplateID: templateID,
		EvidenceRunID: evidenceRunID, Context: context, LessonText: text, CreatedAt: time.Now().UTC(),
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sec_lessons (lesson_id, workspace_id, run_id, template_id, evidence_run_id, context, lesson_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.LessonID, l.WorkspaceID, l.RunID, l.TemplateID, l.EvidenceRunID, l.Context, l.LessonText, l.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert lesson: %w", err)
	}
	return l, nil
}
