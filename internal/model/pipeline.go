package model

import "time"

// StageAction determines how a bot is promoted into a stage.
type StageAction string

const (
	// StageActionMove advances the bot's stage pointer in place.
	StageActionMove StageAction = "promote_move"
	// StageActionCopy duplicates the bot under a new ID that inherits
	// the advanced stage, leaving the original where it was.
	StageActionCopy StageAction = "promote_copy"
)

// Stage is a single step of a workspace pipeline.
type Stage struct {
	ID        string      `json:"id" yaml:"id"`
	Label     string      `json:"label" yaml:"label"`
	Reviewers []string    `json:"reviewers,omitempty" yaml:"reviewers"`
	Action    StageAction `json:"action" yaml:"action"`
}

// Pipeline is the ordered, workspace-scoped sequence of promotion
// stages. It is read-only from the orchestrator's perspective.
type Pipeline struct {
	Stages []Stage `json:"stages" yaml:"stages"`
}

// Enabled reports whether the workspace has a staging pipeline at all.
// A single-stage pipeline behaves as no pipeline for revisions.
func (p Pipeline) Enabled() bool {
	return len(p.Stages) > 1
}

// StageIndex returns the position of the stage with the given ID, or
// -1 when the ID references no stage of this pipeline.
func (p Pipeline) StageIndex(id string) int {
	for i, s := range p.Stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Stage returns the stage with the given ID.
func (p Pipeline) Stage(id string) (Stage, bool) {
	if i := p.StageIndex(id); i >= 0 {
		return p.Stages[i], true
	}
	return Stage{}, false
}

// RequestStatus is the persisted status of a stage change request. A
// request exists only while pending; promotion and rejection both
// resolve it by clearing it from the bot config, so pending is the
// only status ever stored.
type RequestStatus string

const (
	RequestStatusPending RequestStatus = "pending"
)

// StageRef records where a bot currently sits in the pipeline.
type StageRef struct {
	ID         string    `json:"id"`
	PromotedBy string    `json:"promoted_by,omitempty"`
	PromotedOn time.Time `json:"promoted_on,omitempty"`
}

// Approval is one reviewer sign-off on a stage change request.
type Approval struct {
	Email    string `json:"email"`
	Strategy string `json:"strategy"`
}

// StageRequest is a pending request to move a bot to the next stage.
type StageRequest struct {
	ID          string        `json:"id"`
	Status      RequestStatus `json:"status"`
	RequestedBy string        `json:"requested_by"`
	RequestedOn time.Time     `json:"requested_on"`
	Approvals   []Approval    `json:"approvals,omitempty"`
}

// HasApproval reports whether the reviewer already approved this
// request. Approvals are idempotent.
func (r *StageRequest) HasApproval(email string) bool {
	for _, a := range r.Approvals {
		if a.Email == email {
			return true
		}
	}
	return false
}

// PipelineStatus is a bot's position in the workspace pipeline plus
// an optional pending stage change request.
type PipelineStatus struct {
	Current StageRef      `json:"currentStage"`
	Request *StageRequest `json:"stageRequest,omitempty"`
}

// Clone returns a deep copy of the pipeline status.
func (s *PipelineStatus) Clone() *PipelineStatus {
	clone := *s
	if s.Request != nil {
		req := *s.Request
		req.Approvals = append([]Approval(nil), s.Request.Approvals...)
		clone.Request = &req
	}
	return &clone
}
