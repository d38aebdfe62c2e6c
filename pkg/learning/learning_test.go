package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentctl/sentryd/pkg/policy"
)

func TestActorKey_PrefersPrincipalID(t *testing.T) {
	assert.Equal(t, "prin_1", ActorKey("prin_1", "agent", "agt_1"))
}

func TestActorKey_FallsBackToActorTypeAndID(t *testing.T) {
	assert.Equal(t, "agent:agt_1", ActorKey("", "agent", "agt_1"))
}

func TestDeriveCategory_ExternalWriteIsAction(t *testing.T) {
	assert.Equal(t, "action", deriveCategory(policy.ActionExternalWrite))
}

func TestDeriveCategory_OtherActionsPassThrough(t *testing.T) {
	assert.Equal(t, "custom.action", deriveCategory("custom.action"))
}

func TestDerivePattern_NoContextKeysUsesActionOnly(t *testing.T) {
	assert.Equal(t, policy.ActionExternalWrite, derivePattern(policy.ActionExternalWrite, nil))
}

func TestDerivePattern_JoinsContextKeys(t *testing.T) {
	got := derivePattern(policy.ActionExternalWrite, []string{"method", "url"})
	assert.Equal(t, policy.ActionExternalWrite+":method,url", got)
}

func TestRoomStreamID_NilFallsBackToUnscoped(t *testing.T) {
	assert.Equal(t, "unscoped", roomStreamID(nil))
}

func TestRoomStreamID_UsesGivenRoom(t *testing.T) {
	room := "rm_1"
	assert.Equal(t, "rm_1", roomStreamID(&room))
}

func TestCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	assert.NotEmpty(t, correlationID(""))
}

func TestCorrelationID_PassesThroughGivenValue(t *testing.T) {
	assert.Equal(t, "cor_abc", correlationID("cor_abc"))
}
