// Package catalog holds the fixed set of models a user can pick from.
package catalog

import (
	"fmt"
	"strings"
)

// Descriptor identifies one selectable model. Descriptors are values;
// the catalog never hands out pointers into its own storage.
type Descriptor struct {
	ID              string `toml:"id"`
	DisplayName     string `toml:"name"`
	Description     string `toml:"description"`
	ApproximateSize string `toml:"size"`
}

// Catalog is an immutable, ordered list of descriptors.
type Catalog struct {
	models []Descriptor
	byID   map[string]int
}

// Defaults returns the stock model list.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			ID:              "TinyLlama-1.1B-Chat-v0.4-q4f16_1-MLC",
			DisplayName:     "TinyLlama 1.1B Chat",
			Description:     "Very small model, most reliable when the cache misbehaves",
			ApproximateSize: "~0.8GB",
		},
		{
			ID:              "Llama-3.2-1B-Instruct-q4f16_1-MLC",
			DisplayName:     "Llama 3.2 1B Instruct",
			Description:     "Fast and efficient small model for quick responses",
			ApproximateSize: "~1.2GB",
		},
		{
			ID:              "Phi-3.5-mini-instruct-q4f16_1-MLC",
			DisplayName:     "Phi-3.5 Mini",
			Description:     "Microsoft's small model",
			ApproximateSize: "~2.1GB",
		},
		{
			ID:              "RedPajama-INCITE-Chat-3B-v1-q4f16_1-MLC",
			DisplayName:     "RedPajama 3B Chat",
			Description:     "Alternative 3B chat model",
			ApproximateSize: "~2.0GB",
		},
		{
			ID:              "Llama-3.2-3B-Instruct-q4f16_1-MLC",
			DisplayName:     "Llama 3.2 3B Instruct",
			Description:     "Balanced performance and speed",
			ApproximateSize: "~2.8GB",
		},
	}
}

// New builds a catalog. Ids must be non-empty and unique.
func New(models []Descriptor) (*Catalog, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	c := &Catalog{
		models: make([]Descriptor, 0, len(models)),
		byID:   make(map[string]int, len(models)),
	}
	for _, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", len(c.models))
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		if m.DisplayName == "" {
			m.DisplayName = m.ID
		}
		c.byID[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}
	return c, nil
}

// Default returns the stock catalog.
func Default() *Catalog {
	c, err := New(Defaults())
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the descriptor for an id.
func (c *Catalog) Lookup(id string) (Descriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return c.models[i], true
}

// Contains reports whether id is in the catalog.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// DisplayName returns the model's name, or the id itself when unknown.
func (c *Catalog) DisplayName(id string) string {
	if d, ok := c.Lookup(id); ok {
		return d.DisplayName
	}
	return id
}

// All returns a copy of the descriptors in catalog order.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, len(c.models))
	copy(out, c.models)
	return out
}

// First returns the first descriptor, the default selection.
func (c *Catalog) First() Descriptor {
	return c.models[0]
}

// Next returns the id following id, wrapping around.
func (c *Catalog) Next(id string) string {
	i, ok := c.byID[id]
	if !ok {
		return c.models[0].ID
	}
	return c.models[(i+1)%len(c.models)].ID
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	return len(c.models)
}
