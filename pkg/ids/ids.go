// Package ids generates the prefixed identifiers used across
// every projection and event record.
package ids

import "github.com/google/uuid"

const (
	PrefixEvent             = "evt_"
	PrefixAgent             = "agt_"
	PrefixCorrelation       = "cor_"
	PrefixMessage           = "msg_"
	PrefixArtifact          = "art_"
	PrefixRun               = "run_"
	PrefixStep              = "stp_"
	PrefixRoom              = "rm_"
	PrefixThread            = "thr_"
	PrefixLease             = "les_"
	PrefixApproval          = "apr_"
	PrefixScorecard         = "sc_"
	PrefixPrincipal         = "prin_"
	PrefixConstraint        = "con_"
	PrefixLesson            = "lsn_"
	PrefixSkillPackage      = "skp_"
	PrefixRecommendation    = "rec_"
)

// New returns a new random identifier with the given literal prefix,
// e.g. New(PrefixEvent) -> "evt_3f9a...".
func New(prefix string) string {
	return prefix + uuid.NewString()
}

// Event, Agent, Correlation, ... are thin convenience wrappers so call
// sites read as ids.Event() rather than ids.New(ids.PrefixEvent).
func Event() string          { return New(PrefixEvent) }
func Agent() string          { return New(PrefixAgent) }
func Correlation() string    { return New(PrefixCorrelation) }
func Message() string        { return New(PrefixMessage) }
func Artifact() string       { return New(PrefixArtifact) }
func Run() string            { return New(PrefixRun) }
func Step() string           { return New(PrefixStep) }
func Room() string           { return New(PrefixRoom) }
func Thread() string         { return New(PrefixThread) }
func Lease() string          { return New(PrefixLease) }
func Approval() string       { return New(PrefixApproval) }
func Scorecard() string      { return New(PrefixScorecard) }
func Principal() string      { return New(PrefixPrincipal) }
func Constraint() string     { return New(PrefixConstraint) }
func Lesson() string         { return New(PrefixLesson) }
func SkillPackage() string   { return New(PrefixSkillPackage) }
func Recommendation() string { return New(PrefixRecommendation) }
