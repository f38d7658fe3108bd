package resource

import (
	"fmt"
	"sort"
)

// Catalog is the set of resources a run can verify, keyed by name.
type Catalog struct {
	specs map[string]Spec
	names []string
}

// NewCatalog indexes specs by name. Duplicate names are an error.
func NewCatalog(specs ...Spec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if _, dup := c.specs[s.Name]; dup {
			return c, &LoadError{Code: ErrCodeDuplicate, Resource: s.Name, Message: "resource defined more than once"}
		}
		c.specs[s.Name] = s.Clone()
		c.names = append(c.names, s.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Get returns a copy of the named spec.
func (c *Catalog) Get(name string) (Spec, bool) {
	s, ok := c.specs[name]
	if !ok {
		return Spec{}, false
	}
	return s.Clone(), true
}

// MustGet is Get for callers that have already validated name.
func (c *Catalog) MustGet(name string) Spec {
	s, ok := c.Get(name)
	if !ok {
		panic(fmt.Sprintf("resource %q not in catalog", name))
	}
	return s
}

// Names returns resource names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Len returns the number of resources.
func (c *Catalog) Len() int {
	return len(c.names)
}
