package api

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const rbacModel = `
[request_definition]
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

// newEnforcer builds the in-memory role policy. Three roles: viewer reads,
// operator additionally reports incidents and resolves escalations, admin
// inherits operator.
func newEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}
	policies := [][]string{
		{"viewer", "incidents", "read"},
		{"viewer", "impact", "read"},
		{"viewer", "audit", "read"},
		{"operator", "incidents", "write"},
		{"operator", "escalations", "write"},
		{"operator", "escalations", "read"},
	}
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("authz policy: %w", err)
		}
	}
	groupings := [][]string{
		{"operator", "viewer"},
		{"admin", "operator"},
	}
	for _, g := range groupings {
		if _, err := e.AddGroupingPolicy(g[0], g[1]); err != nil {
			return nil, fmt.Errorf("authz grouping: %w", err)
		}
	}
	return e, nil
}
