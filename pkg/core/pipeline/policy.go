package pipeline

import "github.com/caseconnect/casa-cli/pkg/core/model"

// ActionKind identifies a pipeline action as the backend names it.
type ActionKind string

const (
	ActionStartBackgroundCheck   ActionKind = "start_background_check"
	ActionApproveBackgroundCheck ActionKind = "approve_background_check"
	ActionFailBackgroundCheck    ActionKind = "fail_background_check"
	ActionCompleteTraining       ActionKind = "complete_training"
	ActionApproveVolunteer       ActionKind = "approve_volunteer"
	ActionRejectApplication      ActionKind = "reject_application"
)

// Variant classifies how an action button is rendered.
type Variant string

const (
	VariantPrimary   Variant = "primary"
	VariantDanger    Variant = "danger"
	VariantSecondary Variant = "secondary"
)

// ActionDescriptor is a presentation fact about one available action. It
// carries no authorization information.
type ActionDescriptor struct {
	Action  ActionKind
	Label   string
	Variant Variant
}

// statusActions maps each non-terminal status to its actions in display
// order. Terminal statuses are absent and resolve to no actions.
var statusActions = map[model.VolunteerStatus][]ActionDescriptor{
	model.StatusApplied: {
		{Action: ActionStartBackgroundCheck, Label: "Start background check", Variant: VariantPrimary},
		{Action: ActionRejectApplication, Label: "Reject application", Variant: VariantDanger},
	},
	model.StatusBackgroundCheck: {
		{Action: ActionApproveBackgroundCheck, Label: "Approve background check", Variant: VariantPrimary},
		{Action: ActionFailBackgroundCheck, Label: "Fail background check", Variant: VariantDanger},
	},
	model.StatusTraining: {
		{Action: ActionCompleteTraining, Label: "Mark training complete", Variant: VariantPrimary},
		{Action: ActionRejectApplication, Label: "Reject application", Variant: VariantDanger},
	},
}

// ActionsFor returns the ordered actions available at a status. Unknown and
// terminal statuses return nil; the function never fails.
func ActionsFor(status model.VolunteerStatus) []ActionDescriptor {
	src := statusActions[status]
	if len(src) == 0 {
		return nil
	}
	out := make([]ActionDescriptor, len(src))
	copy(out, src)
	return out
}

// ActionsForState returns the ordered actions for a pipeline state. Once
// training is completed the approval action becomes available ahead of the
// reject action, in the slot a freshly enabled primary takes on the board.
func ActionsForState(state model.PipelineState) []ActionDescriptor {
	actions := ActionsFor(state.Status)
	if state.Status == model.StatusTraining && state.TrainingCompleted {
		approve := ActionDescriptor{
			Action:  ActionApproveVolunteer,
			Label:   "Approve volunteer",
			Variant: VariantPrimary,
		}
		// after complete_training, before reject_application
		actions = append(actions[:1], append([]ActionDescriptor{approve}, actions[1:]...)...)
	}
	return actions
}

// StateAllows reports whether an action is legal for a pipeline state.
func StateAllows(state model.PipelineState, action ActionKind) bool {
	for _, a := range ActionsForState(state) {
		if a.Action == action {
			return true
		}
	}
	return false
}
