package access

import (
	"errors"
	"fmt"
)

// Role identifies the clinical role carried by a validated principal.
type Role string

const (
	RoleDoctor Role = "doctor"
	RoleNurse  Role = "nurse"
	RoleAdmin  Role = "admin"
)

// Action enumerates the operations the gate arbitrates.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionPresign Action = "presign"
)

// ErrForbidden indicates the caller's role does not permit the requested action.
var ErrForbidden = errors.New("access: action forbidden for role")

// Gate maps roles to their permitted actions. The table is fixed at
// construction; an unknown role resolves to the empty set.
type Gate struct {
	permitted map[Role]map[Action]struct{}
}

// NewGate builds the gate with the default clinical permission table.
func NewGate() *Gate {
	return NewGateWithTable(map[Role][]Action{
		RoleDoctor: {ActionCreate, ActionRead, ActionUpdate, ActionPresign},
		RoleNurse:  {ActionRead},
		RoleAdmin:  {ActionRead, ActionDelete},
	})
}

// NewGateWithTable builds a gate from an explicit role→actions table. The
// table is copied; later mutation of the argument has no effect.
func NewGateWithTable(table map[Role][]Action) *Gate {
	permitted := make(map[Role]map[Action]struct{}, len(table))
	for role, actions := range table {
		set := make(map[Action]struct{}, len(actions))
		for _, action := range actions {
			set[action] = struct{}{}
		}
		permitted[role] = set
	}
	return &Gate{permitted: permitted}
}

// Allows reports whether the role may perform the action.
func (g *Gate) Allows(role Role, action Action) bool {
	set, ok := g.permitted[role]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// Require returns an ErrForbidden-wrapping error when the role may not
// perform the action.
func (g *Gate) Require(role Role, action Action) error {
	if g.Allows(role, action) {
		return nil
	}
	return fmt.Errorf("%w: role=%s action=%s", ErrForbidden, role, action)
}
