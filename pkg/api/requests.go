package api

import "encoding/json"

type ensurePrincipalRequest struct {
	PrincipalType   string `json:"principal_type" binding:"required,oneof=user service agent"`
	LegacyActorType string `json:"legacy_actor_type" binding:"required"`
	LegacyActorID   string `json:"legacy_actor_id" binding:"required"`
}

type registerAgentRequest struct {
	DisplayName     string `json:"display_name" binding:"required"`
	LegacyActorType string `json:"legacy_actor_type" binding:"required"`
	LegacyActorID   string `json:"legacy_actor_id" binding:"required"`
}

type skillImportRequestItem struct {
	SkillPackageID string `json:"skill_package_id" binding:"required"`
	Version        string `json:"version" binding:"required"`
	HasManifest    bool   `json:"has_manifest"`
	HasSignature   bool   `json:"has_signature"`
	ManifestBase64 string `json:"manifest_base64"`
}

type importSkillsRequest struct {
	Packages []skillImportRequestItem `json:"packages" binding:"required,min=1,dive"`
}

type createRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

type createThreadRequest struct {
	Title *string `json:"title"`
}

type createMessageRequest struct {
	AuthorType string `json:"author_type" binding:"required,oneof=user service agent"`
	AuthorID   string `json:"author_id" binding:"required"`
	Body       string `json:"body" binding:"required"`
}

type createRunRequest struct {
	RoomID        *string         `json:"room_id"`
	ThreadID      *string         `json:"thread_id"`
	CorrelationID string          `json:"correlation_id"`
	Input         json.RawMessage `json:"input"`
}

type completeRunRequest struct {
	Status     string          `json:"status" binding:"required,oneof=succeeded failed cancelled"`
	Output     json.RawMessage `json:"output"`
	ErrorMsg   *string         `json:"error_message"`
	ReasonCode *string         `json:"reason_code"`
}

type createStepRequest struct {
	Name string `json:"name" binding:"required"`
}

type createArtifactRequest struct {
	RunID    string          `json:"run_id" binding:"required"`
	Kind     string          `json:"kind" binding:"required"`
	URI      *string         `json:"uri"`
	Metadata json.RawMessage `json:"metadata"`
}

type evaluatePolicyRequest struct {
	Action      string         `json:"action" binding:"required"`
	ActorType   string         `json:"actor_type" binding:"required"`
	ActorID     string         `json:"actor_id" binding:"required"`
	PrincipalID string         `json:"principal_id"`
	RoomID      string         `json:"room_id"`
	TargetURL   string         `json:"target_url"`
	Context     map[string]any `json:"context"`
}

type createApprovalRequest struct {
	Action      string          `json:"action" binding:"required"`
	ScopeType   string          `json:"scope_type" binding:"required,oneof=workspace room"`
	RoomID      string          `json:"room_id"`
	Context     json.RawMessage `json:"context"`
}

type decideApprovalRequest struct {
	Decision  string `json:"decision" binding:"required,oneof=approved rejected"`
	DecidedBy string `json:"decided_by" binding:"required"`
}

type egressRequestBody struct {
	RunID       *string        `json:"run_id"`
	Action      string         `json:"action" binding:"required"`
	TargetURL   string         `json:"target_url" binding:"required"`
	Method      string         `json:"method" binding:"required"`
	ActorType   string         `json:"actor_type" binding:"required"`
	ActorID     string         `json:"actor_id" binding:"required"`
	PrincipalID string         `json:"principal_id"`
	AgentID     string         `json:"agent_id"`
	RoomID      *string        `json:"room_id"`
	Context     map[string]any `json:"context"`
}

type createScorecardRequest struct {
	AgentID         string             `json:"agent_id" binding:"required"`
	RunID           *string            `json:"run_id"`
	DimensionScores map[string]float64 `json:"dimension_scores" binding:"required,min=1"`
}

type createLessonRequest struct {
	RunID         *string         `json:"run_id"`
	TemplateID    *string         `json:"template_id"`
	EvidenceRunID *string         `json:"evidence_run_id"`
	Context       json.RawMessage `json:"context"`
	LessonText    string          `json:"lesson_text" binding:"required"`
}
