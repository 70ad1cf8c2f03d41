// Package model defines the entities of the remote data store: contexts,
// their ordered collections, cases, and flattened records.
package model

import (
	"fmt"
	"maps"
	"reflect"
)

// ContextInfo is one entry of the host's context listing.
type ContextInfo struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// Context is a named dataset with an ordered hierarchy of collections,
// root-most first.
type Context struct {
	ID          int64        `json:"id,omitempty"`
	Name        string       `json:"name"`
	Title       string       `json:"title,omitempty"`
	Collections []Collection `json:"collections"`
}

// Labels holds the display names for one case of a collection.
type Labels struct {
	SingleCase string `json:"singleCase,omitempty"`
	PluralCase string `json:"pluralCase,omitempty"`
}

// Collection is one level of a context's hierarchy.
type Collection struct {
	ID     int64       `json:"id,omitempty"`
	Name   string      `json:"name"`
	Title  string      `json:"title,omitempty"`
	Attrs  []Attribute `json:"attrs,omitempty"`
	Labels Labels      `json:"labels,omitzero"`
}

// Attribute is a named column of a collection.
type Attribute struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Hidden      bool   `json:"hidden,omitempty"`
}

// Case is one row at a collection level. ParentID is 0 for root cases.
type Case struct {
	ID         int64          `json:"id"`
	Collection string         `json:"collection,omitempty"`
	ParentID   int64          `json:"parent,omitempty"`
	Values     map[string]any `json:"values"`
}

// HasParent reports whether the case is linked to a parent case.
func (c *Case) HasParent() bool {
	return c.ParentID != 0
}

// Record is a fully denormalized row: a leaf case merged with its ancestors.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Validate checks the context invariants: at least one collection and
// unique collection names.
func (c *Context) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("data context has no name")
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("data context %q has no collections", c.Name)
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, coll := range c.Collections {
		if seen[coll.Name] {
			return fmt.Errorf("data context %q has duplicate collection %q", c.Name, coll.Name)
		}
		seen[coll.Name] = true
	}
	return nil
}

// Leaf returns the leaf-most collection, or nil for an empty context.
func (c *Context) Leaf() *Collection {
	if len(c.Collections) == 0 {
		return nil
	}
	return &c.Collections[len(c.Collections)-1]
}

// Collection returns the named collection and its index in the hierarchy.
func (c *Context) Collection(name string) (*Collection, int, bool) {
	for i := range c.Collections {
		if c.Collections[i].Name == name {
			return &c.Collections[i], i, true
		}
	}
	return nil, -1, false
}

// CollectionNames returns the collection names root first.
func (c *Context) CollectionNames() []string {
	return CollectionNames(c.Collections)
}

// CollectionNames returns the names of colls in order.
func CollectionNames(colls []Collection) []string {
	names := make([]string, len(colls))
	for i, coll := range colls {
		names[i] = coll.Name
	}
	return names
}

// Normalize returns a copy of the collection with default title, attribute
// titles and labels filled in, matching what the host stores.
func (c Collection) Normalize() Collection {
	n := c
	n.ID = 0
	if n.Title == "" {
		n.Title = n.Name
	}
	if n.Labels.SingleCase == "" {
		n.Labels.SingleCase = n.Name
	}
	if n.Labels.PluralCase == "" {
		n.Labels.PluralCase = n.Name
	}
	n.Attrs = make([]Attribute, len(c.Attrs))
	for i, a := range c.Attrs {
		if a.Title == "" {
			a.Title = a.Name
		}
		n.Attrs[i] = a
	}
	return n
}

// NormalizeCollections normalizes every collection in order.
func NormalizeCollections(colls []Collection) []Collection {
	out := make([]Collection, len(colls))
	for i, c := range colls {
		out[i] = c.Normalize()
	}
	return out
}

// EqualCollections reports whether two collection sequences have the same
// length and pairwise equal names and normalized attribute and label content.
// Position matters since it encodes the hierarchy level.
func EqualCollections(a, b []Collection) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		na, nb := a[i].Normalize(), b[i].Normalize()
		if na.Name != nb.Name || na.Labels != nb.Labels {
			return false
		}
		if !reflect.DeepEqual(na.Attrs, nb.Attrs) {
			return false
		}
	}
	return true
}
