package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/terravet/terravet/pkg/audit"
	"github.com/terravet/terravet/pkg/fault"
	"github.com/terravet/terravet/pkg/pricing"
	"github.com/terravet/terravet/pkg/remediation"
	"github.com/terravet/terravet/pkg/stores"
	"github.com/terravet/terravet/pkg/telemetry"
)

// Orchestrator drives remediation sessions end to end.
type Orchestrator struct {
	store   stores.Store
	engine  *audit.Engine
	planner *remediation.Planner
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewOrchestrator creates a session orchestrator.
func NewOrchestrator(store stores.Store, engine *audit.Engine, planner *remediation.Planner, logger zerolog.Logger, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		store:   store,
		engine:  engine,
		planner: planner,
		logger:  telemetry.ComponentLogger(logger, "session"),
		metrics: metrics,
	}
}

// ApplyResult reports what an apply operation did.
type ApplyResult struct {
	Session    *Session `json:"session"`
	NewVersion int      `json:"new_version"`
	Applied    []string `json:"applied"`
	Failed     []string `json:"failed"`
	FinalScore int      `json:"final_score"`
}

// AnalyzeAndPlan audits the latest version of a template and builds a
// change plan for review. The returned session is in the reviewing
// state; a planning failure leaves it cancelled with the error
// recorded.
func (o *Orchestrator) AnalyzeAndPlan(ctx context.Context, templateID string, opts *audit.Options) (*Session, error) {
	version, err := o.store.GetLatestVersion(ctx, templateID)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		TemplateID:      templateID,
		Status:          StatusPlanning,
		BaselineVersion: version.Version,
	}
	rec, err := toRecord(sess)
	if err != nil {
		return nil, err
	}
	if err := o.store.CreateSession(ctx, rec); err != nil {
		return nil, err
	}
	sess.ID = rec.ID
	sess.CreatedAt = rec.CreatedAt
	o.metrics.SessionStarted()

	logger := telemetry.WithTemplateID(telemetry.WithSessionID(o.logger, sess.ID), templateID)

	result, err := o.engine.Audit(ctx, version.Content, opts)
	if err != nil {
		return nil, o.failPlanning(ctx, sess, fmt.Errorf("audit failed: %w", err))
	}
	o.saveSnapshot(ctx, templateID, version.Version, result)

	changes, err := o.planner.Plan(ctx, version.Content, result.Violations)
	if err != nil {
		return nil, o.failPlanning(ctx, sess, fmt.Errorf("planning failed: %w", err))
	}

	sess.OriginalScore = result.Score
	sess.ProjectedScore, sess.ProjectedCostChange = projectImpact(result.Score, changes)
	sess.Changes = changes

	rec, err = toRecord(sess)
	if err != nil {
		return nil, o.failPlanning(ctx, sess, err)
	}
	if err := o.store.UpdateSession(ctx, rec); err != nil {
		return nil, o.failPlanning(ctx, sess, err)
	}
	if err := o.store.TransitionSession(ctx, sess.ID, StatusPlanning, StatusReviewing); err != nil {
		return nil, err
	}
	sess.Status = StatusReviewing

	logger.Info().
		Int("changes", len(changes)).
		Int("score", sess.OriginalScore).
		Int("projected_score", sess.ProjectedScore).
		Msg("session ready for review")

	return sess, nil
}

// ApplyChanges applies the accepted changes and writes the result as
// the template's next version. Only a reviewing session can be
// applied; the transition is a compare-and-set, so a concurrent apply
// or cancel loses cleanly. An empty acceptedIDs accepts every
// non-manual change. When no accepted change survives validation the
// session returns to reviewing and an exhaustion error is returned.
func (o *Orchestrator) ApplyChanges(ctx context.Context, sessionID string, acceptedIDs []string) (*ApplyResult, error) {
	started := time.Now()

	if err := o.store.TransitionSession(ctx, sessionID, StatusReviewing, StatusApplying); err != nil {
		return nil, err
	}

	rec, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	sess.Status = StatusApplying
	logger := telemetry.WithTemplateID(telemetry.WithSessionID(o.logger, sess.ID), sess.TemplateID)

	// The plan was computed against the baseline version; if the
	// template moved on, the plan is stale.
	latest, err := o.store.GetLatestVersion(ctx, sess.TemplateID)
	if err != nil {
		return nil, err
	}
	if latest.Version != sess.BaselineVersion {
		o.revertToReviewing(ctx, sess)
		o.metrics.RecordApply("conflict", time.Since(started))
		return nil, fault.Conflict(
			fmt.Sprintf("template advanced to version %d, plan is against version %d",
				latest.Version, sess.BaselineVersion), nil)
	}

	accepted := acceptedSet(acceptedIDs, sess.Changes)

	buffer := latest.Content
	var applied, failed []string
	for i := range sess.Changes {
		change := &sess.Changes[i]
		if !accepted[change.ID] {
			if change.Status == remediation.StatusProposed {
				change.Status = remediation.StatusRejected
			}
			continue
		}
		if err := remediation.ValidateFix(buffer, *change); err != nil {
			change.Status = remediation.StatusFailed
			failed = append(failed, change.ID)
			logger.Warn().
				Str("change_id", change.ID).
				Str("policy_code", change.PolicyCode).
				Err(err).
				Msg("change failed validation, skipping")
			continue
		}
		buffer = remediation.ApplyFix(buffer, *change)
		change.Status = remediation.StatusApplied
		applied = append(applied, change.ID)
	}

	if len(applied) == 0 {
		sess.AppliedIDs = nil
		o.revertToReviewing(ctx, sess)
		o.metrics.RecordApply("exhausted", time.Since(started))
		return nil, fault.Exhausted("no accepted change could be applied", nil)
	}

	newVersion, err := o.store.CreateVersion(ctx, sess.TemplateID, buffer,
		fmt.Sprintf("remediation session %s", sess.ID))
	if err != nil {
		o.revertToReviewing(ctx, sess)
		return nil, err
	}

	sess.AppliedIDs = applied
	updated, err := toRecord(sess)
	if err != nil {
		return nil, err
	}
	if err := o.store.UpdateSession(ctx, updated); err != nil {
		return nil, err
	}
	if err := o.store.TransitionSession(ctx, sess.ID, StatusApplying, StatusCompleted); err != nil {
		return nil, err
	}
	sess.Status = StatusCompleted
	o.metrics.SessionFinished()
	o.metrics.RecordApply("completed", time.Since(started))

	result := &ApplyResult{
		Session:    sess,
		NewVersion: newVersion.Version,
		Applied:    applied,
		Failed:     failed,
	}

	// Re-audit the new version so the caller sees the real score, not
	// the projection.
	if after, err := o.engine.Audit(ctx, buffer, nil); err == nil {
		result.FinalScore = after.Score
		o.saveSnapshot(ctx, sess.TemplateID, newVersion.Version, after)
	} else {
		logger.Warn().Err(err).Msg("post-apply audit failed")
		result.FinalScore = -1
	}

	logger.Info().
		Int("applied", len(applied)).
		Int("failed", len(failed)).
		Int("new_version", newVersion.Version).
		Msg("session applied")

	return result, nil
}

// Cancel cancels a session that has not started applying.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	rec, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch rec.Status {
	case StatusPlanning, StatusReviewing:
	default:
		return fault.Conflict(
			fmt.Sprintf("session %s is %s and cannot be cancelled", sessionID, rec.Status), nil)
	}
	if err := o.store.TransitionSession(ctx, sessionID, rec.Status, StatusCancelled); err != nil {
		return err
	}
	o.metrics.SessionFinished()
	return nil
}

// GetSession loads a session.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	rec, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

// RestoreVersion makes an old version current by appending its content
// as the template's next version. History stays append-only: the
// version being replaced remains in the history untouched.
func (o *Orchestrator) RestoreVersion(ctx context.Context, templateID string, version int) (*stores.TemplateVersion, error) {
	target, err := o.store.GetVersion(ctx, templateID, version)
	if err != nil {
		return nil, err
	}
	latest, err := o.store.GetLatestVersion(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if latest.Version == version {
		return latest, nil
	}
	return o.store.CreateVersion(ctx, templateID, target.Content,
		fmt.Sprintf("restored from version %d", version))
}

// failPlanning cancels a session that failed during planning and
// records the error on it. The original error is returned.
func (o *Orchestrator) failPlanning(ctx context.Context, sess *Session, cause error) error {
	sess.Error = cause.Error()
	if rec, err := toRecord(sess); err == nil {
		if uerr := o.store.UpdateSession(ctx, rec); uerr != nil {
			o.logger.Error().Err(uerr).Str("session_id", sess.ID).Msg("failed to record planning error")
		}
	}
	if terr := o.store.TransitionSession(ctx, sess.ID, StatusPlanning, StatusCancelled); terr != nil {
		o.logger.Error().Err(terr).Str("session_id", sess.ID).Msg("failed to cancel session")
	}
	sess.Status = StatusCancelled
	o.metrics.SessionFinished()
	return cause
}

// revertToReviewing sends an applying session back for review,
// persisting whatever change statuses were decided so far.
func (o *Orchestrator) revertToReviewing(ctx context.Context, sess *Session) {
	if rec, err := toRecord(sess); err == nil {
		if uerr := o.store.UpdateSession(ctx, rec); uerr != nil {
			o.logger.Error().Err(uerr).Str("session_id", sess.ID).Msg("failed to persist session state")
		}
	}
	if err := o.store.TransitionSession(ctx, sess.ID, StatusApplying, StatusReviewing); err != nil {
		o.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to revert session to reviewing")
	}
	sess.Status = StatusReviewing
}

func (o *Orchestrator) saveSnapshot(ctx context.Context, templateID string, version int, result *audit.Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to encode audit snapshot")
		return
	}
	snap := &stores.AuditSnapshot{
		TemplateID:  templateID,
		Version:     version,
		Score:       result.Score,
		TotalIssues: result.TotalIssues,
		ResultJSON:  string(payload),
	}
	if err := o.store.SaveAuditSnapshot(ctx, snap); err != nil {
		o.logger.Error().Err(err).Msg("failed to save audit snapshot")
	}
}

// projectImpact estimates the score and cost if every applicable
// change lands. The projection clamps like the real score does.
func projectImpact(score int, changes []remediation.Change) (int, float64) {
	projected := score
	var cost float64
	for _, c := range changes {
		if c.Manual {
			continue
		}
		projected += c.Impact.ScoreChange
		cost += c.Impact.MonthlyCostChange
	}
	if projected > 100 {
		projected = 100
	}
	if projected < 0 {
		projected = 0
	}
	return projected, pricing.Round2(cost)
}

// acceptedSet resolves the accepted change IDs; an empty list means
// every non-manual change.
func acceptedSet(ids []string, changes []remediation.Change) map[string]bool {
	accepted := make(map[string]bool)
	if len(ids) == 0 {
		for _, c := range changes {
			if !c.Manual {
				accepted[c.ID] = true
			}
		}
		return accepted
	}
	for _, id := range ids {
		accepted[id] = true
	}
	return accepted
}
