package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseconnect/casa-cli/pkg/core/model"
)

// ActionRequest is the body of the backend's pipeline-action endpoint.
type ActionRequest struct {
	Action          ActionKind `json:"action"`
	Notes           string     `json:"notes,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	RequestID       string     `json:"-"`
}

// ActionInput carries the caller-supplied extras for an invocation.
type ActionInput struct {
	Notes           string
	RejectionReason string
}

// ActionClient issues the single mutating call for a pipeline action. A nil
// volunteer on success means the backend sent no record back and the caller
// should apply the local transition.
type ActionClient interface {
	PipelineAction(ctx context.Context, volunteerID string, req ActionRequest) (*model.Volunteer, error)
}

// SessionGuard verifies the session can act, refreshing the token if needed.
type SessionGuard interface {
	EnsureValid(ctx context.Context) error
}

// Controller orchestrates one pipeline action against one volunteer. It
// keeps no state across calls beyond the per-volunteer in-flight set.
type Controller struct {
	client   ActionClient
	sessions SessionGuard
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewController builds a controller over the backend client and session
// guard.
func NewController(client ActionClient, sessions SessionGuard, logger *zap.Logger) *Controller {
	return &Controller{
		client:   client,
		sessions: sessions,
		logger:   logger,
		inflight: map[string]struct{}{},
	}
}

// Invoke runs one pipeline action against the volunteer. At most one action
// per volunteer id is in flight at a time; a second submission is rejected
// locally without contacting the backend. On success the updated record is
// returned; on any failure the caller's record is untouched and the
// in-flight lock is released so a retry can be dispatched.
func (c *Controller) Invoke(ctx context.Context, volunteer model.Volunteer, action ActionKind, input ActionInput) (*model.Volunteer, error) {
	if volunteer.ID == "" {
		return nil, NewValidationError("volunteer id is required")
	}

	if !c.acquire(volunteer.ID) {
		c.logger.Warn("Rejected concurrent pipeline action",
			zap.String("volunteer_id", volunteer.ID),
			zap.String("action", string(action)))
		return nil, NewConcurrentActionError(volunteer.ID)
	}
	defer c.release(volunteer.ID)

	if err := c.sessions.EnsureValid(ctx); err != nil {
		return nil, NewSessionExpiredError(err)
	}

	if err := validateInput(action, input); err != nil {
		return nil, err
	}

	state := model.StateOf(volunteer)
	if action == ActionApproveVolunteer {
		// approval depends on training completion alone, not on the column
		// the volunteer currently sits in
		if !state.TrainingCompleted {
			return nil, NewValidationError(fmt.Sprintf(
				"volunteer %s cannot be approved before completing training", volunteer.ID))
		}
	} else if !StateAllows(state, action) {
		return nil, NewValidationError(fmt.Sprintf(
			"action %s is not available for volunteer %s in status %s",
			action, volunteer.ID, volunteer.VolunteerStatus))
	}

	req := ActionRequest{
		Action:          action,
		Notes:           input.Notes,
		RejectionReason: strings.TrimSpace(input.RejectionReason),
		RequestID:       uuid.New().String(),
	}

	c.logger.Info("Invoking pipeline action",
		zap.String("volunteer_id", volunteer.ID),
		zap.String("action", string(action)),
		zap.String("request_id", req.RequestID))

	updated, err := c.client.PipelineAction(ctx, volunteer.ID, req)
	if err != nil {
		c.logger.Warn("Pipeline action failed",
			zap.String("volunteer_id", volunteer.ID),
			zap.String("action", string(action)),
			zap.Error(err))
		return nil, err
	}

	if updated == nil {
		applied := ApplyTransition(volunteer, action, req.RejectionReason)
		updated = &applied
	}

	c.logger.Info("Pipeline action applied",
		zap.String("volunteer_id", volunteer.ID),
		zap.String("action", string(action)),
		zap.String("new_status", string(updated.VolunteerStatus)))

	return updated, nil
}

// InFlight reports whether an action is currently pending for the volunteer.
func (c *Controller) InFlight(volunteerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, pending := c.inflight[volunteerID]
	return pending
}

func (c *Controller) acquire(volunteerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, pending := c.inflight[volunteerID]; pending {
		return false
	}
	c.inflight[volunteerID] = struct{}{}
	return true
}

func (c *Controller) release(volunteerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, volunteerID)
}

func validateInput(action ActionKind, input ActionInput) error {
	switch action {
	case ActionRejectApplication, ActionFailBackgroundCheck:
		if strings.TrimSpace(input.RejectionReason) == "" {
			return NewValidationError(fmt.Sprintf("a rejection reason is required for %s", action))
		}
	}
	return nil
}

// ApplyTransition returns a copy of the volunteer with the status changes an
// action implies. It assumes the action was already validated against the
// volunteer's pipeline state.
func ApplyTransition(v model.Volunteer, action ActionKind, rejectionReason string) model.Volunteer {
	switch action {
	case ActionStartBackgroundCheck:
		v.VolunteerStatus = model.StatusBackgroundCheck
		v.BackgroundCheckStatus = model.CheckPending
	case ActionApproveBackgroundCheck:
		v.VolunteerStatus = model.StatusTraining
		v.BackgroundCheckStatus = model.CheckApproved
	case ActionFailBackgroundCheck:
		v.VolunteerStatus = model.StatusRejected
		v.BackgroundCheckStatus = model.CheckRejected
		v.RejectionReason = rejectionReason
	case ActionCompleteTraining:
		// status is unchanged; the volunteer stays in the training column
		// until approved
		v.TrainingStatus = model.TrainingCompleted
	case ActionApproveVolunteer:
		v.VolunteerStatus = model.StatusActive
	case ActionRejectApplication:
		v.VolunteerStatus = model.StatusRejected
		v.RejectionReason = rejectionReason
	}
	return v
}
