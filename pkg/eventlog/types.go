package eventlog

// Event type constants. Every stream emits a subset of these; the
// string values are part of the wire contract (SSE frames carry them
// verbatim as event_type) so they are never renamed casually.
const (
	EventTypePolicyEvaluated = "policy.evaluated"

	EventTypeLearningFromFailure = "learning.from_failure"
	EventTypeConstraintLearned   = "constraint.learned"
	EventTypeMistakeRepeated     = "mistake.repeated"
	EventTypeAgentQuarantined    = "agent.quarantined"

	EventTypeEgressRequested   = "egress.requested"
	EventTypeEgressAllowed     = "egress.allowed"
	EventTypeEgressBlocked     = "egress.blocked"
	EventTypeEgressRateLimited = "egress.rate_limited"

	EventTypeRoomCreated      = "room.created"
	EventTypeThreadCreated    = "thread.created"
	EventTypeMessageCreated   = "message.created"
	EventTypeRunCreated       = "run.created"
	EventTypeRunStarted       = "run.started"
	EventTypeRunSucceeded     = "run.succeeded"
	EventTypeRunFailed        = "run.failed"
	EventTypeStepCreated      = "step.created"
	EventTypeArtifactCreated  = "artifact.created"
	EventTypeToolCallStarted  = "tool_call.started"
	EventTypeToolCallFinished = "tool_call.finished"

	EventTypeApprovalCreated = "approval.created"
	EventTypeApprovalDecided = "approval.decided"

	EventTypeAgentRegistered       = "agent.registered"
	EventTypeSkillImportCompleted = "skill_import.completed"
	EventTypeSkillReviewed        = "skill.reviewed"

	EventTypeDailyAgentSnapshot = "daily.agent.snapshot"

	EventTypeScorecardRecorded = "scorecard.recorded"
	EventTypeLessonRecorded    = "lesson.recorded"
)

// Stream types: the first half of a stream's (stream_type, stream_id) key.
const (
	StreamRoom   = "room"
	StreamRun    = "run"
	StreamAgent  = "agent"
	StreamPolicy = "policy"
)
