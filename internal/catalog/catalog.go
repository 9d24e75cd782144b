// Package catalog provides read-only access to the Reference Material
// Store: an in-memory snapshot with case-insensitive indexes and the
// curated sample used in extraction prompts. Categories and units are
// open vocabulary, so everything is keyed on case-folded strings rather
// than enums.
package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/terrametric/carbon-cli/internal/model"
)

var folder = cases.Fold()

// Fold normalizes a free-text category/unit/name for comparison.
func Fold(s string) string {
	return folder.String(strings.TrimSpace(s))
}

// Catalog is an immutable snapshot of the Reference Material Store.
type Catalog struct {
	materials []model.ReferenceMaterial
	byID      map[string]model.ReferenceMaterial
	byCatUnit map[string][]model.ReferenceMaterial
}

func catUnitKey(category, unit string) string {
	return Fold(category) + "\x00" + Fold(unit)
}

// New builds a Catalog from a slice of reference materials. Entries with
// negative factors are skipped: the store schema forbids them, so one
// showing up here means a corrupt admin import.
func New(materials []model.ReferenceMaterial) *Catalog {
	c := &Catalog{
		byID:      make(map[string]model.ReferenceMaterial, len(materials)),
		byCatUnit: make(map[string][]model.ReferenceMaterial),
	}
	for _, m := range materials {
		if m.Factor < 0 {
			continue
		}
		c.materials = append(c.materials, m)
		c.byID[m.ID] = m
		key := catUnitKey(m.Category, m.Unit)
		c.byCatUnit[key] = append(c.byCatUnit[key], m)
	}

	// Pre-sort every bucket descending by factor, ties broken by ID, so
	// proxy selection is reproducible regardless of insertion order.
	for key := range c.byCatUnit {
		sortByFactorDesc(c.byCatUnit[key])
	}
	sortByFactorDesc(c.materials)

	return c
}

func sortByFactorDesc(ms []model.ReferenceMaterial) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Factor != ms[j].Factor {
			return ms[i].Factor > ms[j].Factor
		}
		return ms[i].ID < ms[j].ID
	})
}

// Len returns the number of entries in the snapshot.
func (c *Catalog) Len() int { return len(c.materials) }

// ByID looks up a reference material by its exact identifier.
func (c *Catalog) ByID(id string) (model.ReferenceMaterial, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// CategoryUnit returns all entries matching category and unit
// (case-insensitive), sorted descending by factor with ID tiebreak.
func (c *Catalog) CategoryUnit(category, unit string) []model.ReferenceMaterial {
	return c.byCatUnit[catUnitKey(category, unit)]
}

// KeywordUnit returns entries whose name or category contains keyword and
// whose unit matches (case-insensitive), in the same deterministic order.
func (c *Catalog) KeywordUnit(keyword, unit string) []model.ReferenceMaterial {
	kw := Fold(keyword)
	u := Fold(unit)

	var out []model.ReferenceMaterial
	for _, m := range c.materials {
		if Fold(m.Unit) != u {
			continue
		}
		if strings.Contains(Fold(m.Name), kw) || strings.Contains(Fold(m.Category), kw) {
			out = append(out, m)
		}
	}
	return out
}

// FilterState returns the entries applicable to a state: entries with no
// geographic scoping plus entries matching the state (case-insensitive).
func (c *Catalog) FilterState(state string) []model.ReferenceMaterial {
	st := Fold(state)
	var out []model.ReferenceMaterial
	for _, m := range c.materials {
		if m.State == "" || Fold(m.State) == st {
			out = append(out, m)
		}
	}
	return out
}

// Sample returns up to perCategory entries per category, grouped and
// ordered by category name, for embedding in extraction prompts. The
// per-category cap bounds prompt size.
func (c *Catalog) Sample(perCategory int) []model.ReferenceMaterial {
	if perCategory <= 0 {
		perCategory = 5
	}

	byCat := make(map[string][]model.ReferenceMaterial)
	for _, m := range c.materials {
		key := Fold(m.Category)
		if len(byCat[key]) < perCategory {
			byCat[key] = append(byCat[key], m)
		}
	}

	cats := make([]string, 0, len(byCat))
	for key := range byCat {
		cats = append(cats, key)
	}
	sort.Strings(cats)

	var out []model.ReferenceMaterial
	for _, key := range cats {
		out = append(out, byCat[key]...)
	}
	return out
}
