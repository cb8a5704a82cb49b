package game

import (
	"math"
	"time"

	"live-quiz-service/internal/domain"
)

const (
	defaultBasePoints  = 1000
	defaultTimeLimit   = 30 * time.Second
	defaultTickPeriod  = time.Second
	defaultLobbyExpiry = 10 * time.Minute
)

// Score awards points for a single answer. Wrong or absent choices earn
// nothing; correct choices earn the question's base points scaled linearly
// by how much of the answer window was left at submission time. The result
// is always within [0, basePoints].
func Score(q domain.Question, choiceID string, elapsed time.Duration) int {
	if choiceID == "" || choiceID != q.CorrectChoiceID {
		return 0
	}

	base := q.BasePoints
	if base <= 0 {
		base = defaultBasePoints
	}

	limit := questionTimeLimit(q)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > limit {
		elapsed = limit
	}

	remaining := float64(limit-elapsed) / float64(limit)
	return int(math.Round(float64(base) * remaining))
}

func questionTimeLimit(q domain.Question) time.Duration {
	if q.TimeLimitSeconds <= 0 {
		return defaultTimeLimit
	}
	return time.Duration(q.TimeLimitSeconds) * time.Second
}
