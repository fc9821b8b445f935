package registry

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/trustgate/internal/models"
)

// RecordTransactionOutcome updates the client's reputation counters with a
// completed transaction and recomputes its trust score. The counter update,
// incremental response-time mean and rescore happen under the client's lock,
// so concurrent outcomes never lose an update.
func (r *Registry) RecordTransactionOutcome(clientID string, successful bool, responseTimeMs float64) error {
	rec, err := r.lookup(clientID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	rep := &rec.client.Reputation
	rep.TransactionCount++
	if successful {
		rep.SuccessCount++
	} else {
		rep.FailureCount++
	}
	n := float64(rep.TransactionCount)
	rep.AverageResponseTimeMs = (rep.AverageResponseTimeMs*(n-1) + responseTimeMs) / n

	score := r.engine.Score(*rep, rec.client.RegisteredAt, r.now())
	rec.client.TrustScore = score
	rec.mu.Unlock()

	r.markDirty(clientID)
	r.hub.Publish(models.Event{
		Type:       models.EventTrustScoreChanged,
		ClientID:   clientID,
		TrustScore: score,
	})
	return nil
}

// ReportIssue records a complaint against the client and recomputes its trust
// score. If the recomputed score sits at or below the configured suspend
// floor, the client is automatically suspended. This is the only automatic
// status transition in the system; the triggering report and resulting score
// are logged together so the suspension is auditable.
func (r *Registry) ReportIssue(clientID, details string) error {
	rec, err := r.lookup(clientID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	rec.client.Reputation.ReportedIssueCount++
	issueCount := rec.client.Reputation.ReportedIssueCount

	score := r.engine.Score(rec.client.Reputation, rec.client.RegisteredAt, r.now())
	rec.client.TrustScore = score

	autoSuspend := score <= r.cfg.SuspendFloor && rec.client.Status == models.StatusActive
	if autoSuspend {
		rec.client.Status = models.StatusSuspended
		rec.client.StatusReason = fmt.Sprintf("auto-suspended: trust score %.3f at floor after issue report", score)
	}
	rec.mu.Unlock()

	r.markDirty(clientID)
	r.hub.Publish(models.Event{
		Type:       models.EventIssueReported,
		ClientID:   clientID,
		TrustScore: score,
		Reason:     details,
	})

	if autoSuspend {
		terminated := r.sessions.TerminateByClient(clientID, "client auto-suspended")
		r.hub.Publish(models.Event{
			Type:       models.EventAutoSuspended,
			ClientID:   clientID,
			Status:     models.StatusSuspended,
			TrustScore: score,
			Reason:     details,
		})
		log.Warn().
			Str("client_id", clientID).
			Str("issue", details).
			Int("issue_count", issueCount).
			Float64("trust_score", score).
			Int("sessions_terminated", terminated).
			Msg("client auto-suspended on trust floor")
	}
	return nil
}
