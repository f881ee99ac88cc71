package escrow

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/escrowhub/pkg/models"
)

// Role is the part an actor plays on a given job.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleArbitrator Role = "arbitrator"
)

// allowedRoles is the authorization table. Assign is handled separately
// because a freelancer may accept an assignment that names them.
var allowedRoles = map[Action][]Role{
	ActionFund:         {RoleClient},
	ActionAssign:       {RoleClient},
	ActionStart:        {RoleFreelancer},
	ActionComplete:     {RoleFreelancer},
	ActionRaiseDispute: {RoleClient, RoleFreelancer},
	ActionRelease:      {RoleArbitrator},
	ActionResolve:      {RoleArbitrator},
	ActionCancel:       {RoleClient},
}

// Policy decides which actor may invoke which transition. There is exactly
// one arbitrator for the whole deployment.
type Policy struct {
	arbitrator string
}

func NewPolicy(arbitrator string) *Policy {
	return &Policy{arbitrator: arbitrator}
}

// Arbitrator returns the configured arbitrator identity.
func (p *Policy) Arbitrator() string {
	return p.arbitrator
}

// SameIdentity compares two actor identities. Wallet addresses differ only in
// checksum casing, so the comparison is case-insensitive.
func SameIdentity(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// RolesOf returns every role actor holds on job.
func (p *Policy) RolesOf(job *models.Job, actor string) []Role {
	var roles []Role
	if SameIdentity(actor, job.Client) {
		roles = append(roles, RoleClient)
	}
	if SameIdentity(actor, job.Freelancer) {
		roles = append(roles, RoleFreelancer)
	}
	if SameIdentity(actor, p.arbitrator) {
		roles = append(roles, RoleArbitrator)
	}
	return roles
}

// Check returns ErrUnauthorized unless actor holds a role allowed to perform
// action on job.
func (p *Policy) Check(action Action, job *models.Job, actor string) error {
	allowed, ok := allowedRoles[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrUnauthorized, action)
	}
	for _, have := range p.RolesOf(job, actor) {
		for _, want := range allowed {
			if have == want {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %q may not %s job %s", ErrUnauthorized, actor, action, job.ID)
}

// CheckAssign allows the client to assign anyone, and a freelancer to accept
// an assignment naming themselves.
func (p *Policy) CheckAssign(job *models.Job, actor, freelancer string) error {
	if SameIdentity(actor, job.Client) {
		return nil
	}
	if SameIdentity(actor, freelancer) && !SameIdentity(actor, p.arbitrator) {
		return nil
	}
	return fmt.Errorf("%w: %q may not assign job %s", ErrUnauthorized, actor, job.ID)
}
