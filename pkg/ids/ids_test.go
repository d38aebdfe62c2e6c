package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors_PrefixAndUniqueness(t *testing.T) {
	tests := []struct {
		name   string
		fn     func() string
		prefix string
	}{
		{"Event", Event, PrefixEvent},
		{"Agent", Agent, PrefixAgent},
		{"Correlation", Correlation, PrefixCorrelation},
		{"Message", Message, PrefixMessage},
		{"Artifact", Artifact, PrefixArtifact},
		{"Run", Run, PrefixRun},
		{"Step", Step, PrefixStep},
		{"Room", Room, PrefixRoom},
		{"Thread", Thread, PrefixThread},
		{"Lease", Lease, PrefixLease},
		{"Approval", Approval, PrefixApproval},
		{"Scorecard", Scorecard, PrefixScorecard},
		{"Principal", Principal, PrefixPrincipal},
		{"Constraint", Constraint, PrefixConstraint},
		{"Lesson", Lesson, PrefixLesson},
		{"SkillPackage", SkillPackage, PrefixSkillPackage},
		{"Recommendation", Recommendation, PrefixRecommendation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tt.fn(), tt.fn()
			assert.True(t, strings.HasPrefix(a, tt.prefix))
			assert.NotEqual(t, a, b, "two calls must not collide")
		})
	}
}

func TestNew_UsesGivenPrefix(t *testing.T) {
	id := New("custom_")
	assert.True(t, strings.HasPrefix(id, "custom_"))
}
