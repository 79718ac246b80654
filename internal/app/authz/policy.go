// Package authz decides whether a verified principal may use an operation.
// It is consulted at the HTTP boundary only; services below it do not know
// about roles.
package authz

import (
	"sort"
	"strings"
	"sync"
)

// Well-known permissions.
const (
	PermAdmin              = "admin"
	PermUser               = "user"
	PermBankOperations     = "bank_operations"
	PermManageUsers        = "manage_users"
	PermViewServices       = "view_services"
	PermMFCOperations      = "mfc_operations"
	PermCreateApplications = "create_applications"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role string
}

// Policy answers permission checks.
type Policy interface {
	Allow(p Principal, permission string) bool
}

// Catalog lists the roles a policy knows about.
type Catalog interface {
	Roles() []string
	Permissions(role string) []string
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(p Principal, permission string) bool

func (f PolicyFunc) Allow(p Principal, permission string) bool { return f(p, permission) }

// RolePolicy grants permissions through the principal's role. The admin
// permission implies every other permission.
type RolePolicy struct {
	mu    sync.RWMutex
	roles map[string]map[string]struct{}
}

var (
	_ Policy  = (*RolePolicy)(nil)
	_ Catalog = (*RolePolicy)(nil)
)

// NewRolePolicy builds a policy from role -> permissions.
func NewRolePolicy(roles map[string][]string) *RolePolicy {
	p := &RolePolicy{roles: make(map[string]map[string]struct{}, len(roles))}
	for role, perms := range roles {
		p.SetRole(role, perms)
	}
	return p
}

// SetRole replaces the permissions of role.
func (p *RolePolicy) SetRole(role string, permissions []string) {
	set := make(map[string]struct{}, len(permissions))
	for _, perm := range permissions {
		if perm = strings.TrimSpace(perm); perm != "" {
			set[perm] = struct{}{}
		}
	}
	p.mu.Lock()
	p.roles[normalize(role)] = set
	p.mu.Unlock()
}

func (p *RolePolicy) Allow(pr Principal, permission string) bool {
	if strings.TrimSpace(pr.ID) == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	perms, ok := p.roles[normalize(pr.Role)]
	if !ok {
		return false
	}
	if _, ok := perms[PermAdmin]; ok {
		return true
	}
	_, ok = perms[permission]
	return ok
}

// Permissions returns the sorted permissions of role.
func (p *RolePolicy) Permissions(role string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	perms := p.roles[normalize(role)]
	out := make([]string, 0, len(perms))
	for perm := range perms {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// Roles returns the sorted role names.
func (p *RolePolicy) Roles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.roles))
	for role := range p.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
