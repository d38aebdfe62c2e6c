// Package scorecard computes an agent's overall score from a set of
// rubric dimension scores and decides whether that performance
// promotes the agent to wider autonomy. Both the rubric weighting and
// the promotion threshold are left open by the spec; this package
// exposes them as a pluggable ScoreFunc with a documented default
// rather than hard-coding one scheme.
package scorecard

import "context"

// ScoreFunc computes an overall score from named dimension scores
// (e.g. {"correctness": 0.9, "safety": 1.0}) and decides promotion.
// Implementations may consult recent history (via RecentScores) to
// smooth a single noisy run.
type ScoreFunc func(ctx context.Context, recent RecentScoresFn, dimensionScores map[string]float64) (overall float64, promote bool, err error)

// RecentScoresFn returns an agent's trailing overall scores, most
// recent first. Implemented by pkg/store.Store.RecentScores.
type RecentScoresFn func(ctx context.Context) ([]float64, error)

// PromotionThreshold is the overall score at or above which the
// default ScoreFunc recommends promotion.
const PromotionThreshold = 0.8

// TrailingWindow is how many recent scores the default ScoreFunc
// averages together with the new one before deciding promotion.
const TrailingWindow = 5

// Default computes the overall score as the mean of the dimension
// scores, then averages that with up to TrailingWindow-1 prior
// overall scores to dampen a single lucky or unlucky run. Promotion
// recommends at >= PromotionThreshold.
//
// This is the documented default mentioned in the design notes: the
// spec leaves weighting and thresholds open, so this function is the
// pluggable seam — a deployment with a real rubric should supply its
// own ScoreFunc.
func Default(ctx context.Context, recent RecentScoresFn, dimensionScores map[string]float64) (float64, bool, error) {
	if len(dimensionScores) == 0 {
		return 0, false, nil
	}

	var sum float64
	for _, v := range dimensionScores {
		sum += v
	}
	runScore := sum / float64(len(dimensionScores))

	history, err := recent(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(history) >= TrailingWindow {
		history = history[:TrailingWindow-1]
	}

	total := runScore
	for _, h := range history {
		total += h
	}
	overall := total / float64(len(history)+1)

	// A small tolerance keeps a mean that is exactly the threshold in
	// decimal (e.g. (0.4+1+1)/3) from missing it by float rounding.
	return overall, overall >= PromotionThreshold-1e-9, nil
}
