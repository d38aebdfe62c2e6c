package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApprovals struct {
	exists bool
	err    error
}

func (f fakeApprovals) ActiveApprovalExists(ctx context.Context, workspaceID, action, roomID string) (bool, error) {
	return f.exists, f.err
}

func TestEvaluate_KillSwitchTakesPriorityOverApproval(t *testing.T) {
	cfg := Config{KillSwitchExternalWrite: true, EnforcementMode: EnforcementEnforce}
	d, err := Evaluate(context.Background(), cfg, fakeApprovals{exists: true}, Input{
		Action: ActionExternalWrite, WorkspaceID: "ws_1",
	})
	require.NoError(t, err)
	assert.Equal(t, Deny, d.Decision)
	assert.Equal(t, ReasonKillSwitchActive, d.ReasonCode)
	assert.True(t, d.Binding)
}

func TestEvaluate_ActiveApprovalAllows(t *testing.T) {
	cfg := Config{EnforcementMode: EnforcementEnforce}
	d, err := Evaluate(context.Background(), cfg, fakeApprovals{exists: true}, Input{
		Action: ActionExternalWrite, WorkspaceID: "ws_1",
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d.Decision)
	assert.Equal(t, ReasonApprovalAllowsAction, d.ReasonCode)
}

func TestEvaluate_ExternalWriteRequiresApprovalByDefault(t *testing.T) {
	cfg := Config{EnforcementMode: EnforcementEnforce}
	d, err := Evaluate(context.Background(), cfg, fakeApprovals{exists: false}, Input{
		Action: ActionExternalWrite, WorkspaceID: "ws_1",
	})
	require.NoError(t, err)
	assert.Equal(t, RequireApproval, d.Decision)
	assert.Equal(t, ReasonExternalWriteNeedsApproval, d.ReasonCode)
}

func TestEvaluate_UnknownActionDefaultAllows(t *testing.T) {
	cfg := Config{EnforcementMode: EnforcementEnforce}
	d, err := Evaluate(context.Background(), cfg, fakeApprovals{exists: false}, Input{
		Action: "internal.read", WorkspaceID: "ws_1",
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d.Decision)
	assert.Equal(t, ReasonDefaultAllow, d.ReasonCode)
}

func TestEvaluate_NonEnforceModeIsNotBinding(t *testing.T) {
	cfg := Config{EnforcementMode: "observe"}
	d, err := Evaluate(context.Background(), cfg, fakeApprovals{exists: false}, Input{
		Action: ActionExternalWrite, WorkspaceID: "ws_1",
	})
	require.NoError(t, err)
	assert.Equal(t, RequireApproval, d.Decision)
	assert.False(t, d.Binding)
}

func TestEvaluate_ApprovalLookupErrorPropagates(t *testing.T) {
	cfg := Config{EnforcementMode: EnforcementEnforce}
	wantErr := errors.New("db unavailable")
	_, err := Evaluate(context.Background(), cfg, fakeApprovals{err: wantErr}, Input{
		Action: ActionExternalWrite, WorkspaceID: "ws_1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestEvaluate_NilLookupSkipsApprovalStep(t *testing.T) {
	cfg := Config{EnforcementMode: EnforcementEnforce}
	d, err := Evaluate(context.Background(), cfg, nil, Input{
		Action: ActionExternalWrite, WorkspaceID: "ws_1",
	})
	require.NoError(t, err)
	assert.Equal(t, RequireApproval, d.Decision)
}
