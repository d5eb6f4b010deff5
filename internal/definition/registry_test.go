package definition

import (
	"sync"
	"testing"

	"github.com/pitabwire/caseview/model"
)

func twoDomains() []model.DomainDefinition {
	return []model.DomainDefinition{
		{
			Domain:     "referrals",
			Navigation: model.NavigationDefinition{Label: "Referrals", Order: 2},
			Checksum:   "bbb",
			Pages: []model.PageDefinition{
				{ID: "referral-list", Order: 1},
			},
		},
		{
			Domain:     "cases",
			Navigation: model.NavigationDefinition{Label: "Cases", Order: 1},
			Checksum:   "aaa",
			Pages: []model.PageDefinition{
				{ID: "phone-followup", Order: 2},
				{ID: "case-query", Order: 1},
			},
		},
	}
}

func TestRegistry_lookups(t *testing.T) {
	r := NewRegistry(twoDomains())

	if _, ok := r.GetPage("case-query"); !ok {
		t.Error("GetPage(case-query) = false")
	}
	if _, ok := r.GetPage("missing"); ok {
		t.Error("GetPage(missing) = true")
	}
	if d, ok := r.GetDomain("cases"); !ok || d.Navigation.Label != "Cases" {
		t.Errorf("GetDomain(cases) = %+v, %v", d, ok)
	}
	if n := r.PageCount(); n != 3 {
		t.Errorf("PageCount() = %d, want 3", n)
	}
}

func TestRegistry_ordering(t *testing.T) {
	r := NewRegistry(twoDomains())

	var pageIDs []string
	for _, p := range r.AllPages() {
		pageIDs = append(pageIDs, p.ID)
	}
	want := []string{"case-query", "referral-list", "phone-followup"}
	for i := range want {
		if i >= len(pageIDs) || pageIDs[i] != want[i] {
			t.Fatalf("AllPages() = %v, want %v", pageIDs, want)
		}
	}

	domains := r.AllDomains()
	if len(domains) != 2 || domains[0].Domain != "cases" || domains[1].Domain != "referrals" {
		t.Errorf("AllDomains() order = %v", domains)
	}
}

func TestRegistry_checksumIsOrderIndependent(t *testing.T) {
	defs := twoDomains()
	a := NewRegistry(defs)
	b := NewRegistry([]model.DomainDefinition{defs[1], defs[0]})

	if a.Checksum() != b.Checksum() {
		t.Error("checksum should not depend on load order")
	}
	if a.Checksum() == NewRegistry(defs[:1]).Checksum() {
		t.Error("checksum should change with content")
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry(twoDomains())
	r.Replace(nil)

	if _, ok := r.GetPage("case-query"); ok {
		t.Error("page should be gone after Replace(nil)")
	}
	if r.PageCount() != 0 {
		t.Errorf("PageCount() = %d, want 0", r.PageCount())
	}
}

func TestRegistry_concurrentReadsDuringReplace(t *testing.T) {
	r := NewRegistry(twoDomains())
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				_ = r.AllPages()
				_, _ = r.GetPage("case-query")
			}
		}()
	}
	for range 50 {
		r.Replace(twoDomains())
	}
	wg.Wait()
}

func TestRegistry_AllPagesReturnsCopy(t *testing.T) {
	r := NewRegistry(twoDomains())
	pages := r.AllPages()
	pages[0].ID = "mutated"
	if r.AllPages()[0].ID != "case-query" {
		t.Error("AllPages() must not expose internal state")
	}
}
