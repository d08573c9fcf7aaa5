// Package registry keeps the organizational hierarchy: circles (domains)
// arranged as a tree and the roles held within them. Circles and roles are
// only ever created in this core; nothing deletes them.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sixoverme/cqec-os/internal/util"
)

// maxDepth bounds the ancestor walk; a longer chain means the parent links
// are corrupted (a cycle or an implausibly deep tree).
const maxDepth = 64

var (
	ErrUnknownParent = errors.New("parent domain does not exist")
	ErrUnknownDomain = errors.New("domain does not exist")
	ErrCorruptTree   = errors.New("domain tree corrupted")
)

type Domain struct {
	ID          string
	Name        string
	Color       string
	Description string
	ParentID    string // empty for a root domain
}

type Role struct {
	ID          string
	Name        string
	DomainID    string
	Description string
	HolderIDs   []string
	TermEnd     *time.Time
}

type Registry struct {
	domains map[string]Domain
	roles   map[string]Role
}

func New() *Registry {
	return &Registry{
		domains: make(map[string]Domain),
		roles:   make(map[string]Role),
	}
}

// Reset replaces the whole registry contents, used when a snapshot reload
// swaps state.
func (r *Registry) Reset(domains []Domain, roles []Role) {
	r.domains = make(map[string]Domain, len(domains))
	for _, d := range domains {
		r.domains[d.ID] = d
	}
	r.roles = make(map[string]Role, len(roles))
	for _, role := range roles {
		r.roles[role.ID] = role
	}
}

func (r *Registry) Domain(id string) (Domain, bool) {
	d, ok := r.domains[id]
	return d, ok
}

func (r *Registry) Role(id string) (Role, bool) {
	role, ok := r.roles[id]
	return role, ok
}

// Domains returns every domain, ordered by name for stable listings.
func (r *Registry) Domains() []Domain {
	out := make([]Domain, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Roles returns every role, ordered by name.
func (r *Registry) Roles() []Role {
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RolesInDomain returns the roles scoped to one domain.
func (r *Registry) RolesInDomain(domainID string) []Role {
	var out []Role
	for _, role := range r.roles {
		if role.DomainID == domainID {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Children returns the direct sub-domains of a domain.
func (r *Registry) Children(domainID string) []Domain {
	var out []Domain
	for _, d := range r.domains {
		if d.ParentID == domainID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddDomain inserts a new domain. The parent must already exist, or be
// absent for a root domain.
func (r *Registry) AddDomain(d Domain) error {
	if d.ParentID != "" {
		if _, ok := r.domains[d.ParentID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParent, d.ParentID)
		}
	}
	r.domains[d.ID] = d
	return nil
}

// Ancestors walks parent links up to the root. A chain longer than maxDepth
// reports ErrCorruptTree instead of looping forever.
func (r *Registry) Ancestors(domainID string) ([]Domain, error) {
	d, ok := r.domains[domainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domainID)
	}
	var out []Domain
	for hops := 0; d.ParentID != ""; hops++ {
		if hops >= maxDepth {
			return nil, fmt.Errorf("%w: ancestor chain from %s exceeds %d hops", ErrCorruptTree, domainID, maxDepth)
		}
		parent, ok := r.domains[d.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: %s references missing parent %s", ErrCorruptTree, d.ID, d.ParentID)
		}
		out = append(out, parent)
		d = parent
	}
	return out, nil
}

// FindRole looks a role up by the (name, domain) pair, which the
// ratification workflow treats as unique.
func (r *Registry) FindRole(name, domainID string) (Role, bool) {
	for _, role := range r.roles {
		if role.Name == name && role.DomainID == domainID {
			return role, true
		}
	}
	return Role{}, false
}

// UpsertRoleHolder adds the holder to an existing (name, domain) role,
// deduplicated, or creates the role with the holder as its only member.
// Returns the resulting role and whether it was newly created.
func (r *Registry) UpsertRoleHolder(name, domainID, description, holderID string) (Role, bool) {
	if existing, ok := r.FindRole(name, domainID); ok {
		for _, id := range existing.HolderIDs {
			if id == holderID {
				return existing, false
			}
		}
		existing.HolderIDs = append(append([]string(nil), existing.HolderIDs...), holderID)
		r.roles[existing.ID] = existing
		return existing, false
	}
	role := Role{
		ID:          util.NewID("role"),
		Name:        name,
		DomainID:    domainID,
		Description: description,
		HolderIDs:   []string{holderID},
	}
	r.roles[role.ID] = role
	return role, true
}
