package definition

import (
	"cmp"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/caseview/model"
)

// snapshot is an immutable view of all loaded definitions.
type snapshot struct {
	domains  map[string]model.DomainDefinition
	pages    map[string]model.PageDefinition
	ordered  []model.PageDefinition
	checksum string
}

// Registry is a read-optimized store of loaded definitions. Readers never
// block; Replace swaps in a new snapshot atomically.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry holding defs.
func NewRegistry(defs []model.DomainDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace swaps the registry contents for defs.
func (r *Registry) Replace(defs []model.DomainDefinition) {
	s := &snapshot{
		domains: make(map[string]model.DomainDefinition, len(defs)),
		pages:   make(map[string]model.PageDefinition),
	}

	checksums := make([]string, 0, len(defs))
	for _, def := range defs {
		s.domains[def.Domain] = def
		checksums = append(checksums, def.Checksum)
		for _, p := range def.Pages {
			s.pages[p.ID] = p
			s.ordered = append(s.ordered, p)
		}
	}
	slices.SortStableFunc(s.ordered, func(a, b model.PageDefinition) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})

	slices.Sort(checksums)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(checksums, ":"))))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetDomain returns the domain definition with the given ID.
func (r *Registry) GetDomain(domainID string) (model.DomainDefinition, bool) {
	d, ok := r.current().domains[domainID]
	return d, ok
}

// GetPage returns the page definition with the given ID.
func (r *Registry) GetPage(pageID string) (model.PageDefinition, bool) {
	p, ok := r.current().pages[pageID]
	return p, ok
}

// AllPages returns every page ordered by (order, id).
func (r *Registry) AllPages() []model.PageDefinition {
	return slices.Clone(r.current().ordered)
}

// AllDomains returns every domain ordered by navigation order, then name.
func (r *Registry) AllDomains() []model.DomainDefinition {
	s := r.current()
	defs := make([]model.DomainDefinition, 0, len(s.domains))
	for _, d := range s.domains {
		defs = append(defs, d)
	}
	slices.SortFunc(defs, func(a, b model.DomainDefinition) int {
		return cmp.Or(cmp.Compare(a.Navigation.Order, b.Navigation.Order), cmp.Compare(a.Domain, b.Domain))
	})
	return defs
}

// PageCount returns the number of loaded pages.
func (r *Registry) PageCount() int {
	return len(r.current().pages)
}

// Checksum returns the combined checksum of all loaded definition files.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
