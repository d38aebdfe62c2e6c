package scorecard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recentOf(scores ...float64) RecentScoresFn {
	return func(ctx context.Context) ([]float64, error) {
		return scores, nil
	}
}

func TestDefault_NoHistoryUsesRunScoreAlone(t *testing.T) {
	overall, promote, err := Default(context.Background(), recentOf(), map[string]float64{
		"correctness": 1.0, "safety": 1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, overall)
	assert.True(t, promote)
}

func TestDefault_AveragesWithTrailingHistory(t *testing.T) {
	overall, promote, err := Default(context.Background(), recentOf(1.0, 1.0), map[string]float64{
		"correctness": 0.4,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, overall, 1e-9)
	assert.True(t, promote)
}

func TestDefault_TruncatesHistoryToWindow(t *testing.T) {
	// TrailingWindow is 5, so only 4 prior scores are kept alongside the
	// new run score (5 values averaged in total).
	overall, _, err := Default(context.Background(), recentOf(1, 1, 1, 1, 1, 1, 1), map[string]float64{
		"c": 0,
	})
	require.NoError(t, err)
	// run score 0 + 4 trailing 1s = 4 / 5 = 0.8
	assert.InDelta(t, 0.8, overall, 1e-9)
}

func TestDefault_BelowThresholdDoesNotPromote(t *testing.T) {
	overall, promote, err := Default(context.Background(), recentOf(), map[string]float64{
		"correctness": 0.5,
	})
	require.NoError(t, err)
	assert.Less(t, overall, PromotionThreshold)
	assert.False(t, promote)
}

func TestDefault_EmptyDimensionScores(t *testing.T) {
	overall, promote, err := Default(context.Background(), recentOf(1.0), map[string]float64{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, overall)
	assert.False(t, promote)
}

func TestDefault_RecentScoresErrorPropagates(t *testing.T) {
	wantErr := errors.New("db down")
	_, _, err := Default(context.Background(), func(ctx context.Context) ([]float64, error) {
		return nil, wantErr
	}, map[string]float64{"c": 1.0})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}
