// Package catalog holds the static store reference data offered during
// onboarding.
package catalog

import "github.com/sakif/smartbot/internal/model"

// Catalog is an ordered, read-only list of stores.
type Catalog struct {
	stores []model.Store
	byID   map[string]int
}

// New builds a catalog preserving the order of stores.
func New(stores []model.Store) *Catalog {
	c := &Catalog{
		stores: append([]model.Store(nil), stores...),
		byID:   make(map[string]int, len(stores)),
	}
	for i, s := range c.stores {
		c.byID[s.ID] = i
	}
	return c
}

var defaultStores = []model.Store{
	{ID: "1", Name: "Giant", Distance: "4.4 KM AWAY", Type: "GROCERY STORE", Icon: "storefront", ImageURL: "https://picsum.photos/seed/giant/200/200"},
	{ID: "2", Name: "Jaya Grocer", Distance: "3.3 KM AWAY", Type: "GROCERY STORE", Icon: "local_grocery_store", ImageURL: "https://picsum.photos/seed/jaya/200/200"},
	{ID: "3", Name: "Lotuss", Distance: "4.9 KM AWAY", Type: "GROCERY STORE", Icon: "home_max", ImageURL: "https://picsum.photos/seed/lotuss/200/200"},
}

// Default returns the built-in store list.
func Default() *Catalog {
	return New(defaultStores)
}

// Stores returns a copy of every entry in catalog order.
func (c *Catalog) Stores() []model.Store {
	return append([]model.Store(nil), c.stores...)
}

// IDs returns every store id in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.stores))
	for i, s := range c.stores {
		ids[i] = s.ID
	}
	return ids
}

func (c *Catalog) Len() int { return len(c.stores) }

func (c *Catalog) Lookup(id string) (model.Store, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.Store{}, false
	}
	return c.stores[i], true
}

// Filter returns the stores for which keep reports true, in catalog order.
func (c *Catalog) Filter(keep func(id string) bool) []model.Store {
	var out []model.Store
	for _, s := range c.stores {
		if keep(s.ID) {
			out = append(out, s)
		}
	}
	return out
}

// Names returns the names of the selected stores in catalog order.
// Unknown ids are ignored.
func (c *Catalog) Names(selected func(id string) bool) []string {
	stores := c.Filter(selected)
	names := make([]string, len(stores))
	for i, s := range stores {
		names[i] = s.Name
	}
	return names
}
