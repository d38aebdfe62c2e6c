package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Agent is a row of sec_agents.
type Agent struct {
	AgentID          string     `db:"agent_id"`
	WorkspaceID      string     `db:"workspace_id"`
	PrincipalID      string     `db:"principal_id"`
	DisplayName      string     `db:"display_name"`
	QuarantinedAt    *time.Time `db:"quarantined_at"`
	QuarantineReason *string    `db:"quarantine_reason"`
	CreatedAt        time.Time  `db:"created_at"`
}

// Skill package verification statuses.
const (
	SkillVerified    = "verified"
	SkillPending     = "pending"
	SkillQuarantined = "quarantined"
)

// SkillPackage is a row of sec_agent_skill_packages.
type SkillPackage struct {
	ID                  int64     `db:"id"`
	WorkspaceID         string    `db:"workspace_id"`
	AgentID             string    `db:"agent_id"`
	SkillPackageID      string    `db:"skill_package_id"`
	Version             string    `db:"version"`
	HashSHA256          string    `db:"hash_sha256"`
	VerificationStatus  string    `db:"verification_status"`
	ReasonCode          *string   `db:"reason_code"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// RegisterAgent creates an agent and its backing principal of type
// "agent" in one call, under a pre-allocated agentID — the caller
// generates the id up front (ids.Agent()) so it can use it as the
// stream id for the agent.registered event appended before this insert.
func (s *Store) RegisterAgent(ctx context.Context, ex Ext, agentID, workspaceID, displayName, legacyActorType, legacyActorID string) (*Agent, error) {
	principal, err := s.EnsureByActor(ctx, ex, workspaceID, PrincipalTypeAgent, legacyActorType, legacyActorID)
	if err != nil {
		return nil, fmt.Errorf("ensure agent principal: %w", err)
	}

	agent := &Agent{
		AgentID:     agentID,
		WorkspaceID: workspaceID,
		PrincipalID: principal.PrincipalID,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO sec_agents (agent_id, workspace_id, principal_id, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		agent.AgentID, agent.WorkspaceID, agent.PrincipalID, agent.DisplayName, agent.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert agent: %w", err)
	}
	return agent, nil
}

// GetAgent loads an agent by id within a workspace.
func (s *Store) GetAgent(ctx context.Context, ex Ext, workspaceID, agentID string) (*Agent, error) {
	var a Agent
	err := sqlx.GetContext(ctx, ex, &a, `
		SELECT agent_id, workspace_id, principal_id, display_name, quarantined_at, quarantine_reason, created_at
		FROM sec_agents
		WHERE workspace_id = $1 AND agent_id = $2`,
		workspaceID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// QuarantineAgent sets quarantined_at/quarantine_reason if not already
// set. Returns whether the agent was already quarantined (the caller
// still emits one event per trigger regardless).
func (s *Store) QuarantineAgent(ctx context.Context, tx *sqlx.Tx, agentID, reason string) (bool, error) {
	var existing *time.Time
	if err := tx.GetContext(ctx, &existing, `SELECT quarantined_at FROM sec_agents WHERE agent_id = $1`, agentID); err != nil {
		return false, fmt.Errorf("read agent quarantine state: %w", err)
	}
	if existing != nil {
		return true, nil
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE sec_agents SET quarantined_at = now(), quarantine_reason = $2
		WHERE agent_id = $1 AND quarantined_at IS NULL`,
		agentID, reason,
	)
	if err != nil {
		return false, fmt.Errorf("quarantine agent: %w", err)
	}
	return false, nil
}

// SkillImportInput describes one package to import.
type SkillImportInput struct {
	SkillPackageID string
	Version        string
	HasManifest    bool
	HasSignature   bool
	ManifestBytes  []byte
}

// ClassifySkillImport derives a skill package's verification status
// from whether it carries a manifest and a signature. Treated as a
// pure function with enumerated outcomes per the spec's scope note.
func ClassifySkillImport(in SkillImportInput) (status string, reasonCode string) {
	if !in.HasManifest {
		return SkillQuarantined, "manifest_missing"
	}
	if !in.HasSignature {
		return SkillPending, ""
	}
	return SkillVerified, ""
}

// hashManifest derives the idempotency hash for a skill package import.
func hashManifest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ImportSkillSummary is the response shape for skills/import.
type ImportSkillSummary struct {
	Total        int `json:"total"`
	Verified     int `json:"verified"`
	Pending      int `json:"pending"`
	Quarantined  int `json:"quarantined"`
}

// ImportSkills upserts one row per package, keyed by
// (agent, skill_id, version, hash) for idempotency, and returns the
// classification summary.
func (s *Store) ImportSkills(ctx context.Context, ex Ext, workspaceID, agentID string, packages []SkillImportInput) (ImportSkillSummary, error) {
	var summary ImportSkillSummary
	for _, pkg := range packages {
		status, reasonCode := ClassifySkillImport(pkg)
		hash := hashManifest(pkg.ManifestBytes)

		var reasonPtr *string
		if reasonCode != "" {
			reasonPtr = &reasonCode
		}

		_, err := ex.ExecContext(ctx, `
			INSERT INTO sec_agent_skill_packages
				(workspace_id, agent_id, skill_package_id, version, hash_sha256, verification_status, reason_code, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			ON CONFLICT (agent_id, skill_package_id, version, hash_sha256)
			DO UPDATE SET verification_status = EXCLUDED.verification_status,
			              reason_code = EXCLUDED.reason_code,
			              updated_at = now()`,
			workspaceID, agentID, pkg.SkillPackageID, pkg.Version, hash, status, reasonPtr,
		)
		if err != nil {
			return ImportSkillSummary{}, fmt.Errorf("upsert skill package %s: %w", pkg.SkillPackageID, err)
		}

		summary.Total++
		switch status {
		case SkillVerified:
			summary.Verified++
		case SkillPending:
			summary.Pending++
		case SkillQuarantined:
			summary.Quarantined++
		}
	}
	return summary, nil
}

// ReviewPendingSkills re-verifies every pending skill package for an
// agent; the spec's only named outcome is that a pending entry without
// a signature becomes quarantined.
func (s *Store) ReviewPendingSkills(ctx context.Context, ex Ext, workspaceID, agentID string) (int, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE sec_agent_skill_packages
		SET verification_status = $3, reason_code = $4, updated_at = now()
		WHERE workspace_id = $1 AND agent_id = $2 AND verification_status = $5`,
		workspaceID, agentID, SkillQuarantined, "verify_signature_required", SkillPending,
	)
	if err != nil {
		return 0, fmt.Errorf("review pending skills: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // driver doesn't support RowsAffected; not fatal
	}
	return int(n), nil
}
