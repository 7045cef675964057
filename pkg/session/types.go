// Package session coordinates the remediation workflow: analyze a
// template, review the proposed changes, and apply the accepted ones
// as a new immutable version. Sessions move through a strict state
// machine; every transition is a compare-and-set at the store, so two
// actors can never drive the same session concurrently.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/terravet/terravet/pkg/remediation"
	"github.com/terravet/terravet/pkg/stores"
)

// Session statuses. The only legal transitions are
// planning→reviewing, planning→cancelled, reviewing→applying,
// reviewing→cancelled, applying→completed, and applying→reviewing
// (when nothing could be applied).
const (
	StatusPlanning  = "planning"
	StatusReviewing = "reviewing"
	StatusApplying  = "applying"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Session is the in-memory view of a remediation session.
type Session struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Status     string `json:"status"`

	// BaselineVersion is the template version the plan was computed
	// against. Applying fails if the template has moved past it.
	BaselineVersion int `json:"baseline_version"`

	// OriginalScore is the audit score at planning time;
	// ProjectedScore is the score if every proposed edit is applied.
	OriginalScore  int `json:"original_score"`
	ProjectedScore int `json:"projected_score"`

	// ProjectedCostChange is the expected monthly cost movement if
	// every proposed edit is applied; negative values are savings.
	ProjectedCostChange float64 `json:"projected_cost_change"`

	Changes    []remediation.Change `json:"changes"`
	AppliedIDs []string             `json:"applied_ids"`

	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// sessionPayload is the JSON blob persisted in the changes column
// alongside the change list.
type sessionPayload struct {
	OriginalScore       int                  `json:"original_score"`
	ProjectedScore      int                  `json:"projected_score"`
	ProjectedCostChange float64              `json:"projected_cost_change"`
	Changes             []remediation.Change `json:"changes"`
}

func toRecord(s *Session) (*stores.Session, error) {
	payload, err := json.Marshal(sessionPayload{
		OriginalScore:       s.OriginalScore,
		ProjectedScore:      s.ProjectedScore,
		ProjectedCostChange: s.ProjectedCostChange,
		Changes:             s.Changes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session changes: %w", err)
	}
	applied, err := json.Marshal(s.AppliedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode applied ids: %w", err)
	}
	return &stores.Session{
		ID:              s.ID,
		TemplateID:      s.TemplateID,
		Status:          s.Status,
		BaselineVersion: s.BaselineVersion,
		ChangesJSON:     string(payload),
		AppliedJSON:     string(applied),
		Error:           s.Error,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}, nil
}

func fromRecord(rec *stores.Session) (*Session, error) {
	s := &Session{
		ID:              rec.ID,
		TemplateID:      rec.TemplateID,
		Status:          rec.Status,
		BaselineVersion: rec.BaselineVersion,
		Error:           rec.Error,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}

	var payload sessionPayload
	if rec.ChangesJSON != "" && rec.ChangesJSON != "[]" {
		if err := json.Unmarshal([]byte(rec.ChangesJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to decode session changes: %w", err)
		}
	}
	s.OriginalScore = payload.OriginalScore
	s.ProjectedScore = payload.ProjectedScore
	s.ProjectedCostChange = payload.ProjectedCostChange
	s.Changes = payload.Changes

	if rec.AppliedJSON != "" {
		if err := json.Unmarshal([]byte(rec.AppliedJSON), &s.AppliedIDs); err != nil {
			return nil, fmt.Errorf("failed to decode applied ids: %w", err)
		}
	}
	return s, nil
}
