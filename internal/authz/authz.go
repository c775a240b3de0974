// Package authz decides which administrators may act on orders.
package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

const (
	ResourceOrder   = "order"
	ResourceCatalog = "catalog"
	ResourceSales   = "sales"

	ActionReject  = "reject"
	ActionDeliver = "deliver"
	ActionView    = "view"
	ActionUpload  = "upload"
)

// modelConfig is role-based: "g, <admin id>, <role>" grants a role and
// "p, <role>, <resource>, <action>" grants an action to a role.
const modelConfig = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && (r.act == p.act || p.act == "*")
`

type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

// New builds an Authorizer from casbin policy lines.
func New(policyLines []string) (*Authorizer, error) {
	m, err := model.NewModelFromString(modelConfig)
	if err != nil {
		return nil, fmt.Errorf("authz: model: %w", err)
	}
	adapter := stringadapter.NewAdapter(strings.Join(policyLines, "\n"))
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("authz: enforcer: %w", err)
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// Allowed reports whether adminID may perform action on resource.
func (a *Authorizer) Allowed(_ context.Context, adminID, resource, action string) (bool, error) {
	if adminID == "" {
		return false, nil
	}
	return a.enforcer.Enforce(adminID, resource, action)
}

// DefaultPolicy grants the admin role every order and catalog action plus
// read access to the sales ledger, and assigns it to the given ids.
func DefaultPolicy(adminIDs []string) []string {
	lines := []string{
		"p, admin, " + ResourceOrder + ", *",
		"p, admin, " + ResourceCatalog + ", *",
		"p, admin, " + ResourceSales + ", " + ActionView,
	}
	for _, id := range adminIDs {
		lines = append(lines, "g, "+id+", admin")
	}
	return lines
}
