// Package analytics derives per-user conversation metrics from archived
// session records. It is a pure read side: nothing here mutates session or
// turn data, and every figure can be recomputed at any time from the turn
// logs.
package analytics

import (
	"context"
	"fmt"

	"github.com/pitchside-ai/pitchside/internal/conversation"
	"github.com/pitchside-ai/pitchside/internal/schema"
	"github.com/pitchside-ai/pitchside/internal/store"
)

// Analytics is the derived aggregate over one user's sessions in a time
// window.
type Analytics struct {
	TotalConversations     int                         `json:"total_conversations"`
	CompletedConversations int                         `json:"completed_conversations"`
	CompletionRate         float64                     `json:"completion_rate"`
	AverageTurns           float64                     `json:"average_turns_per_conversation"`
	AverageDataQuality     float64                     `json:"average_data_quality"`
	AverageEfficiency      float64                     `json:"average_efficiency"`
	ActivityBreakdown      map[schema.ActivityType]int `json:"activity_breakdown"`
}

// Aggregator computes [Analytics] from the session store.
type Aggregator struct {
	store   store.Store
	schemas *schema.Registry
}

// New creates an Aggregator.
func New(st store.Store, schemas *schema.Registry) (*Aggregator, error) {
	if st == nil {
		return nil, fmt.Errorf("analytics: store must not be nil")
	}
	if schemas == nil {
		return nil, fmt.Errorf("analytics: schemas must not be nil")
	}
	return &Aggregator{store: st, schemas: schemas}, nil
}

// Aggregate computes the analytics for userID over window.
//
// Completion rate and average turns cover every archived session; data
// quality and efficiency are averaged over completed sessions only, since
// both are defined at completion. Efficiency of a completed session is the
// schema's expected minimum turn count divided by the actual turn count,
// capped at 1.0, so a minimal conversation scores 1.0 and every extra turn
// reduces the score monotonically.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, window store.Window) (Analytics, error) {
	recs, err := a.store.ListSessions(ctx, userID, window)
	if err != nil {
		return Analytics{}, fmt.Errorf("analytics: list sessions: %w", err)
	}

	out := Analytics{
		ActivityBreakdown: make(map[schema.ActivityType]int),
	}
	var (
		turnSum       int
		qualitySum    float64
		efficiencySum float64
	)

	for _, rec := range recs {
		out.TotalConversations++
		out.ActivityBreakdown[rec.ActivityType]++
		turnSum += len(rec.Turns)

		if rec.State != conversation.StateCompleted {
			continue
		}
		out.CompletedConversations++
		qualitySum += rec.DataQualityScore
		efficiencySum += a.efficiency(rec.ActivityType, len(rec.Turns))
	}

	if out.TotalConversations > 0 {
		out.CompletionRate = float64(out.CompletedConversations) / float64(out.TotalConversations)
		out.AverageTurns = float64(turnSum) / float64(out.TotalConversations)
	}
	if out.CompletedConversations > 0 {
		out.AverageDataQuality = qualitySum / float64(out.CompletedConversations)
		out.AverageEfficiency = efficiencySum / float64(out.CompletedConversations)
	}
	return out, nil
}

// efficiency scores one completed session against its schema's expected
// minimum turn count.
func (a *Aggregator) efficiency(activityType schema.ActivityType, turns int) float64 {
	if turns == 0 {
		return 0
	}
	minTurns := 1
	if sc, err := a.schemas.Lookup(activityType); err == nil && sc.MinTurns > 0 {
		minTurns = sc.MinTurns
	}
	eff := float64(minTurns) / float64(turns)
	if eff > 1 {
		eff = 1
	}
	return eff
}
