// Package policy gates payroll run transitions and template writes by role.
package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

var ErrForbidden = errors.New("action not permitted for role")

type Role string

const (
	RoleOwner          Role = "owner"
	RolePayrollManager Role = "payroll_manager"
	RolePayrollOfficer Role = "payroll_officer"
	RoleViewer         Role = "viewer"
)

// Objects
const (
	ObjectPayrollRun      = "payroll_run"
	ObjectTemplate        = "calculation_template"
	ObjectInvoiceTemplate = "invoice_template"
)

// Actions
const (
	ActionRead      = "read"
	ActionCreate    = "create"
	ActionCalculate = "calculate"
	ActionApprove   = "approve"
	ActionExport    = "export"
	ActionCancel    = "cancel"
	ActionDelete    = "delete"
	ActionWrite     = "write"
)

const modelText = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// Permission is a single (object, action) grant.
type Permission struct {
	Object string
	Action string
}

// RolePermissions maps roles to the grants they hold directly.
var RolePermissions = map[Role][]Permission{
	RoleViewer: {
		{ObjectPayrollRun, ActionRead},
		{ObjectTemplate, ActionRead},
		{ObjectInvoiceTemplate, ActionRead},
	},
	RolePayrollOfficer: {
		{ObjectPayrollRun, ActionCreate},
		{ObjectPayrollRun, ActionCalculate},
	},
	RolePayrollManager: {
		{ObjectPayrollRun, ActionApprove},
		{ObjectPayrollRun, ActionExport},
		{ObjectPayrollRun, ActionCancel},
		{ObjectPayrollRun, ActionDelete},
		{ObjectTemplate, ActionWrite},
		{ObjectInvoiceTemplate, ActionWrite},
	},
}

// RoleInheritance lists, per role, the roles whose grants it inherits.
var RoleInheritance = map[Role][]Role{
	RolePayrollOfficer: {RoleViewer},
	RolePayrollManager: {RolePayrollOfficer},
	RoleOwner:          {RolePayrollManager},
}

// Authorizer decides whether a role may perform an action on an object.
type Authorizer interface {
	Authorize(role Role, object, action string) error
}

type Enforcer struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

// NewEnforcer builds an enforcer loaded with RolePermissions and RoleInheritance.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy model: %w", err)
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy enforcer: %w", err)
	}

	for role, perms := range RolePermissions {
		for _, p := range perms {
			if _, err := e.AddPolicy(string(role), p.Object, p.Action); err != nil {
				return nil, fmt.Errorf("failed to add policy %s %s %s: %w", role, p.Object, p.Action, err)
			}
		}
	}
	for role, parents := range RoleInheritance {
		for _, parent := range parents {
			if _, err := e.AddGroupingPolicy(string(role), string(parent)); err != nil {
				return nil, fmt.Errorf("failed to add role %s -> %s: %w", role, parent, err)
			}
		}
	}

	return &Enforcer{enforcer: e}, nil
}

func (e *Enforcer) Authorize(role Role, object, action string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ok, err := e.enforcer.Enforce(string(role), object, action)
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: role '%s' cannot %s %s", ErrForbidden, role, action, object)
	}
	return nil
}
