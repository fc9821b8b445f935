// Package trust computes a client's reputation score as a pure function of
// its accumulated counters. The engine holds no mutable state; callers own
// synchronization of the counters they pass in.
package trust

import (
	"time"

	"github.com/agentmesh/trustgate/internal/models"
)

// Weights are the scoring coefficients. The defaults were tuned empirically;
// operators may override them through config as long as every weight stays
// non-negative (monotonicity: more successes, faster responses, fewer issues,
// longer tenure and higher volume never lower the score).
type Weights struct {
	SuccessRate  float64
	ResponseTime float64
	IssuePenalty float64
	Tenure       float64
	Volume       float64
}

// DefaultWeights returns the reference coefficients.
func DefaultWeights() Weights {
	return Weights{
		SuccessRate:  0.40,
		ResponseTime: 0.20,
		IssuePenalty: 0.20,
		Tenure:       0.10,
		Volume:       0.10,
	}
}

// Engine scores reputation counters into [MinScore, MaxScore].
type Engine struct {
	MinScore float64
	MaxScore float64
	Weights  Weights
}

// NewEngine constructs an Engine with the given bounds and weights.
func NewEngine(minScore, maxScore float64, w Weights) *Engine {
	return &Engine{MinScore: minScore, MaxScore: maxScore, Weights: w}
}

// Score computes the trust score for the given counters and registration time.
// The result is always clamped to [MinScore, MaxScore].
func (e *Engine) Score(rep models.Reputation, registeredAt, now time.Time) float64 {
	txn := rep.TransactionCount
	denom := txn
	if denom < 1 {
		denom = 1
	}
	successRate := float64(rep.SuccessCount) / float64(denom)

	responseFactor := clamp(1-rep.AverageResponseTimeMs/1000, 0, 1)
	issuePenalty := minFloat(float64(rep.ReportedIssueCount)/10, 1)

	days := now.Sub(registeredAt).Hours() / 24
	tenureFactor := clamp(days/90, 0, 1)
	volumeFactor := minFloat(float64(txn)/100, 1)

	score := e.MinScore +
		e.Weights.SuccessRate*successRate +
		e.Weights.ResponseTime*responseFactor -
		e.Weights.IssuePenalty*issuePenalty +
		e.Weights.Tenure*tenureFactor +
		e.Weights.Volume*volumeFactor

	return clamp(score, e.MinScore, e.MaxScore)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
