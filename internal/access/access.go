/*

Capability-check boundary. Every privileged entry point consults an injected
RoleOracle before mutating state; a failed check aborts the call with both
the required role and the caller identified.

*/

package access

import (
	"errors"
	"fmt"
)

// Role names checked by the core. The oracle implementation decides how
// accounts acquire them.
const (
	RoleDoHardWorker        = "do-hard-worker"
	RoleReallocator         = "reallocator"
	RoleStrategyRegistrar   = "strategy-registrar"
	RoleEmergencyWithdrawer = "emergency-withdrawer"
)

// ErrMissingRole is returned when a caller lacks a required role.
var ErrMissingRole = errors.New("missing role")

// RoleOracle answers capability checks. It is treated as an external
// collaborator; the core never mutates role assignments.
type RoleOracle interface {
	HasRole(role, account string) bool
}

// CheckRole verifies a capability and returns a caller-identifying error on
// failure. All privileged entry points go through this helper so the error
// shape is uniform.
func CheckRole(oracle RoleOracle, role, account string) error {
	if oracle == nil {
		return fmt.Errorf("%w: no role oracle configured (role %s, account %s)", ErrMissingRole, role, account)
	}
	if !oracle.HasRole(role, account) {
		return fmt.Errorf("%w: account %s requires role %s", ErrMissingRole, account, role)
	}
	return nil
}

// StaticRoleOracle is a fixed role table for runtime bootstrap and tests.
type StaticRoleOracle struct {
	grants map[string]map[string]struct{} // role -> accounts
}

// NewStaticRoleOracle creates an empty oracle.
func NewStaticRoleOracle() *StaticRoleOracle {
	return &StaticRoleOracle{grants: make(map[string]map[string]struct{})}
}

// Grant gives an account a role.
func (o *StaticRoleOracle) Grant(role, account string) {
	if o.grants[role] == nil {
		o.grants[role] = make(map[string]struct{})
	}
	o.grants[role][account] = struct{}{}
}

// Revoke removes a role from an account.
func (o *StaticRoleOracle) Revoke(role, account string) {
	if accounts, ok := o.grants[role]; ok {
		delete(accounts, account)
	}
}

// HasRole implements RoleOracle.
func (o *StaticRoleOracle) HasRole(role, account string) bool {
	accounts, ok := o.grants[role]
	if !ok {
		return false
	}
	_, granted := accounts[account]
	return granted
}
