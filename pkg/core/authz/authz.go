package authz

import (
	"strings"

	"github.com/caseconnect/casa-cli/pkg/core/model"
)

// Capability is a named permission mapped to one or more roles. Capabilities
// gate groups of pipeline actions; the binding of action to capability is
// owned by the board, not by this package.
type Capability string

const (
	CapabilityRunBackgroundChecks Capability = "run_background_checks"
	CapabilityManageTraining      Capability = "manage_training"
	CapabilityApproveVolunteers   Capability = "approve_volunteers"
	CapabilityRejectApplications  Capability = "reject_applications"
)

// Role names as the backend issues them.
const (
	roleAdministrator = "administrator"
	roleSupervisor    = "supervisor"
	rolePlatformAdmin = "platform_admin"
)

// Matrix maps capabilities to the roles that hold them. It is operator
// configuration, not compiled-in policy.
type Matrix map[Capability][]string

// DefaultMatrix is the conventional CASA mapping, used when the config file
// does not override it.
func DefaultMatrix() Matrix {
	return Matrix{
		CapabilityRunBackgroundChecks: {roleAdministrator, roleSupervisor},
		CapabilityManageTraining:      {roleAdministrator, roleSupervisor, "training_coordinator"},
		CapabilityApproveVolunteers:   {roleAdministrator, roleSupervisor},
		CapabilityRejectApplications:  {roleAdministrator, roleSupervisor},
	}
}

// Evaluator answers role and capability questions for a principal. All
// checks are pure and never fail; a principal with no roles fails every
// check.
type Evaluator struct {
	matrix Matrix

	// operatorEmail, when set, grants super-admin to that exact identity
	// even without the platform_admin role. Kept for compatibility with
	// deployments that rely on the fixed operator account; leave unset to
	// disable.
	operatorEmail string
}

// NewEvaluator builds an evaluator over a capability matrix. A nil matrix
// falls back to DefaultMatrix.
func NewEvaluator(matrix Matrix, operatorEmail string) *Evaluator {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	return &Evaluator{matrix: matrix, operatorEmail: strings.ToLower(strings.TrimSpace(operatorEmail))}
}

// HasRole reports whether the principal holds any of the requested roles.
func (e *Evaluator) HasRole(p model.Principal, roles ...string) bool {
	if len(p.Roles) == 0 || len(roles) == 0 {
		return false
	}
	held := make(map[string]struct{}, len(p.Roles))
	for _, r := range p.Roles {
		held[r] = struct{}{}
	}
	for _, r := range roles {
		if _, ok := held[r]; ok {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal holds an organization-admin role.
func (e *Evaluator) IsAdmin(p model.Principal) bool {
	return e.HasRole(p, roleAdministrator, roleSupervisor)
}

// IsSuperAdmin reports whether the principal is a platform-level operator.
func (e *Evaluator) IsSuperAdmin(p model.Principal) bool {
	if e.HasRole(p, rolePlatformAdmin) {
		return true
	}
	return e.operatorEmail != "" && strings.ToLower(p.Email) == e.operatorEmail
}

// Can reports whether the principal holds the capability. Super-admins hold
// every capability; an unknown capability is held by no one else.
func (e *Evaluator) Can(p model.Principal, capability Capability) bool {
	if e.IsSuperAdmin(p) {
		return true
	}
	return e.HasRole(p, e.matrix[capability]...)
}
