package board

import (
	"sort"

	"go.uber.org/zap"

	"github.com/caseconnect/casa-cli/pkg/core/authz"
	"github.com/caseconnect/casa-cli/pkg/core/model"
	"github.com/caseconnect/casa-cli/pkg/core/pipeline"
)

// ActionBindings maps each pipeline action to the capability that gates it.
// The binding is board configuration: the authorization evaluator knows
// nothing about pipeline actions.
type ActionBindings map[pipeline.ActionKind]authz.Capability

// DefaultBindings is the standard action-to-capability mapping.
func DefaultBindings() ActionBindings {
	return ActionBindings{
		pipeline.ActionStartBackgroundCheck:   authz.CapabilityRunBackgroundChecks,
		pipeline.ActionApproveBackgroundCheck: authz.CapabilityRunBackgroundChecks,
		pipeline.ActionFailBackgroundCheck:    authz.CapabilityRunBackgroundChecks,
		pipeline.ActionCompleteTraining:       authz.CapabilityManageTraining,
		pipeline.ActionApproveVolunteer:       authz.CapabilityApproveVolunteers,
		pipeline.ActionRejectApplication:      authz.CapabilityRejectApplications,
	}
}

// AuthorizedActionsFor filters the pipeline state's actions down to those
// the principal may perform. Actions without a binding are hidden.
func AuthorizedActionsFor(state model.PipelineState, p model.Principal, eval *authz.Evaluator, bindings ActionBindings) []pipeline.ActionDescriptor {
	var out []pipeline.ActionDescriptor
	for _, action := range pipeline.ActionsForState(state) {
		capability, bound := bindings[action.Action]
		if !bound {
			continue
		}
		if eval.Can(p, capability) {
			out = append(out, action)
		}
	}
	return out
}

// ActionPhase is the explicit lifecycle of one volunteer's current action.
type ActionPhase string

const (
	PhaseIdle    ActionPhase = "idle"
	PhasePending ActionPhase = "pending"
	PhaseApplied ActionPhase = "applied"
	PhaseFailed  ActionPhase = "failed"
)

// Column is one status bucket of the board.
type Column struct {
	Status     model.VolunteerStatus
	Volunteers []model.Volunteer
}

// Group buckets volunteers into columns in the fixed pipeline order.
// Volunteers with an unknown status are dropped; the backend owns them and
// the board has no column to show them in.
func Group(volunteers []model.Volunteer) []Column {
	byStatus := make(map[model.VolunteerStatus][]model.Volunteer, len(model.PipelineStatuses))
	for _, v := range volunteers {
		if !v.VolunteerStatus.IsValid() {
			continue
		}
		byStatus[v.VolunteerStatus] = append(byStatus[v.VolunteerStatus], v)
	}

	columns := make([]Column, 0, len(model.PipelineStatuses))
	for _, status := range model.PipelineStatuses {
		bucket := byStatus[status]
		sort.Slice(bucket, func(i, j int) bool {
			if bucket[i].Name() != bucket[j].Name() {
				return bucket[i].Name() < bucket[j].Name()
			}
			return bucket[i].ID < bucket[j].ID
		})
		columns = append(columns, Column{Status: status, Volunteers: bucket})
	}
	return columns
}

// Board holds the volunteer collection for one organization epoch. Only two
// writers exist: SetVolunteers (a full reload) and Patch (a single-volunteer
// update after a successful pipeline action).
type Board struct {
	logger     *zap.Logger
	epoch      int
	volunteers map[string]model.Volunteer
	phases     map[string]ActionPhase
}

// New builds an empty board pinned to an organization epoch.
func New(epoch int, logger *zap.Logger) *Board {
	return &Board{
		logger:     logger,
		epoch:      epoch,
		volunteers: map[string]model.Volunteer{},
		phases:     map[string]ActionPhase{},
	}
}

// Epoch returns the organization epoch the board was loaded under.
func (b *Board) Epoch() int {
	return b.epoch
}

// Stale reports whether the session has moved to another organization since
// the board was loaded. A stale board must be discarded and reloaded.
func (b *Board) Stale(currentEpoch int) bool {
	return b.epoch != currentEpoch
}

// SetVolunteers replaces the whole collection from a backend reload. Action
// phases reset; nothing can be in flight across a reload.
func (b *Board) SetVolunteers(volunteers []model.Volunteer) {
	b.volunteers = make(map[string]model.Volunteer, len(volunteers))
	b.phases = make(map[string]ActionPhase, len(volunteers))
	for _, v := range volunteers {
		b.volunteers[v.ID] = v
	}
	b.logger.Debug("Board reloaded", zap.Int("count", len(volunteers)))
}

// Patch applies a single updated record after a successful pipeline action,
// moving the volunteer to its new column on the next Columns call. Patching
// a stale board is refused.
func (b *Board) Patch(currentEpoch int, updated model.Volunteer) bool {
	if b.Stale(currentEpoch) {
		b.logger.Warn("Dropped patch for stale board",
			zap.Int("board_epoch", b.epoch),
			zap.Int("current_epoch", currentEpoch),
			zap.String("volunteer_id", updated.ID))
		return false
	}
	b.volunteers[updated.ID] = updated
	return true
}

// Columns renders the current collection into status columns.
func (b *Board) Columns() []Column {
	all := make([]model.Volunteer, 0, len(b.volunteers))
	for _, v := range b.volunteers {
		all = append(all, v)
	}
	return Group(all)
}

// Volunteer looks up one record by id.
func (b *Board) Volunteer(id string) (model.Volunteer, bool) {
	v, ok := b.volunteers[id]
	return v, ok
}

// Phase returns the action phase for a volunteer, defaulting to idle.
func (b *Board) Phase(id string) ActionPhase {
	if phase, ok := b.phases[id]; ok {
		return phase
	}
	return PhaseIdle
}

// SetPhase records an action-phase transition for a volunteer. The board
// never infers in-flight state from loading flags; callers drive this
// explicitly around each invocation.
func (b *Board) SetPhase(id string, phase ActionPhase) {
	if phase == PhaseIdle {
		delete(b.phases, id)
		return
	}
	b.phases[id] = phase
}
