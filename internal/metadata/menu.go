package metadata

import (
	"cmp"
	"slices"

	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/model"
)

// MenuProvider builds the navigation tree from loaded definitions.
type MenuProvider struct {
	registry *definition.Registry
}

// NewMenuProvider creates a new MenuProvider.
func NewMenuProvider(registry *definition.Registry) *MenuProvider {
	return &MenuProvider{registry: registry}
}

// GetMenu returns one node per domain, ordered by navigation order, with the
// domain's list pages as children ordered by page order. Domains without
// pages are omitted.
func (p *MenuProvider) GetMenu() model.NavigationTree {
	domains := p.registry.AllDomains()
	tree := model.NavigationTree{Items: make([]model.NavigationNode, 0, len(domains))}

	for _, domain := range domains {
		if len(domain.Pages) == 0 {
			continue
		}
		pages := slices.Clone(domain.Pages)
		slices.SortStableFunc(pages, func(a, b model.PageDefinition) int {
			return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
		})

		node := model.NavigationNode{
			ID:       domain.Domain,
			Label:    domain.Navigation.Label,
			Icon:     domain.Navigation.Icon,
			Children: make([]model.NavigationNode, 0, len(pages)),
		}
		for _, page := range pages {
			node.Children = append(node.Children, model.NavigationNode{
				ID:       page.ID,
				Label:    page.Title,
				Icon:     page.Icon,
				Route:    PagePath(page.ID),
				Children: []model.NavigationNode{},
			})
		}
		tree.Items = append(tree.Items, node)
	}
	return tree
}

// PagePath returns the path of the HTML list page for pageID.
func PagePath(pageID string) string {
	return "/pages/" + pageID
}
