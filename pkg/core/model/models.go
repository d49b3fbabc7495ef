package model

// VolunteerStatus is a volunteer's position in the onboarding pipeline.
// It drives both board placement and the set of available actions.
type VolunteerStatus string

const (
	StatusApplied         VolunteerStatus = "applied"
	StatusBackgroundCheck VolunteerStatus = "background_check"
	StatusTraining        VolunteerStatus = "training"
	StatusActive          VolunteerStatus = "active"
	StatusInactive        VolunteerStatus = "inactive"
	StatusRejected        VolunteerStatus = "rejected"
	StatusSuspended       VolunteerStatus = "suspended"
)

// PipelineStatuses lists every status in board column order.
var PipelineStatuses = []VolunteerStatus{
	StatusApplied,
	StatusBackgroundCheck,
	StatusTraining,
	StatusActive,
	StatusInactive,
	StatusRejected,
	StatusSuspended,
}

func (s VolunteerStatus) IsValid() bool {
	switch s {
	case StatusApplied, StatusBackgroundCheck, StatusTraining,
		StatusActive, StatusInactive, StatusRejected, StatusSuspended:
		return true
	}
	return false
}

// IsTerminal reports whether the pipeline has no further actions for the
// status. Volunteers in these states change only through direct edits.
func (s VolunteerStatus) IsTerminal() bool {
	switch s {
	case StatusActive, StatusInactive, StatusRejected, StatusSuspended:
		return true
	}
	return false
}

// BackgroundCheckStatus tracks the background check independently of board
// placement.
type BackgroundCheckStatus string

const (
	CheckPending  BackgroundCheckStatus = "pending"
	CheckApproved BackgroundCheckStatus = "approved"
	CheckRejected BackgroundCheckStatus = "rejected"
	CheckExpired  BackgroundCheckStatus = "expired"
)

// TrainingStatus tracks training progress independently of board placement.
type TrainingStatus string

const (
	TrainingNotStarted TrainingStatus = "not_started"
	TrainingInProgress TrainingStatus = "in_progress"
	TrainingCompleted  TrainingStatus = "completed"
	TrainingExpired    TrainingStatus = "expired"
)

// Volunteer is one applicant/volunteer record, scoped to an organization.
// ID is immutable; status fields change only through pipeline actions or
// direct edits on the backend.
type Volunteer struct {
	ID                    string                `json:"id"`
	FirstName             string                `json:"first_name"`
	LastName              string                `json:"last_name"`
	Email                 string                `json:"email"`
	OrganizationID        string                `json:"organization_id"`
	VolunteerStatus       VolunteerStatus       `json:"volunteer_status"`
	BackgroundCheckStatus BackgroundCheckStatus `json:"background_check_status"`
	TrainingStatus        TrainingStatus        `json:"training_status"`
	RejectionReason       string                `json:"rejection_reason,omitempty"`
	BackgroundCheckedAt   string                `json:"background_checked_at,omitempty"` // date, 2006-01-02
}

// Name returns the volunteer's display name.
func (v Volunteer) Name() string {
	if v.FirstName == "" {
		return v.LastName
	}
	if v.LastName == "" {
		return v.FirstName
	}
	return v.FirstName + " " + v.LastName
}

// PipelineState is the tagged pipeline position of a volunteer: the status
// plus the one extra fact (training completion) that changes which actions
// are legal. Deriving actions from this state keeps the policy total,
// instead of re-checking loose fields at each call site.
type PipelineState struct {
	Status            VolunteerStatus
	TrainingCompleted bool
}

// StateOf derives the pipeline state for a volunteer record.
func StateOf(v Volunteer) PipelineState {
	return PipelineState{
		Status:            v.VolunteerStatus,
		TrainingCompleted: v.TrainingStatus == TrainingCompleted,
	}
}

// Organization is a tenant the acting user may work within.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is the authenticated identity behind a session.
type User struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Roles     []string `json:"roles"`
}

// Principal is the acting identity handed to authorization checks. A zero
// Principal (no roles) fails every check.
type Principal struct {
	Email string
	Roles []string
}

// PrincipalOf builds the principal for a user. A nil user yields a zero
// principal.
func PrincipalOf(u *User) Principal {
	if u == nil {
		return Principal{}
	}
	return Principal{Email: u.Email, Roles: u.Roles}
}
