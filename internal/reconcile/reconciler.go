// Package reconcile re-validates AI-proposed line items against the
// Reference Material Store. Whatever factor the model guessed is
// discarded: after reconciliation a factor is either copied verbatim
// from a catalog entry or nil with the item flagged for review.
//
// Matching precedence, first success wins:
//  1. exact catalog ID match
//  2. structural-steel linear-measure guard (forces review)
//  3. category+unit proxy
//  4. material-family keyword proxy
//  5. no match (forces review)
//
// Every step is deterministic for a fixed catalog snapshot.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/terrametric/carbon-cli/internal/catalog"
	"github.com/terrametric/carbon-cli/internal/model"
)

// keywordVocabulary is the fixed material-family scan order for step 4.
var keywordVocabulary = []string{
	"steel",
	"concrete",
	"timber",
	"plasterboard",
	"insulation",
	"glass",
	"aluminium",
	"brick",
	"masonry",
	"carpet",
	"vinyl",
}

// Reconciler validates candidates against a catalog snapshot.
type Reconciler struct {
	cat *catalog.Catalog
}

// New creates a Reconciler over a catalog snapshot.
func New(cat *catalog.Catalog) *Reconciler {
	return &Reconciler{cat: cat}
}

// Reconcile produces one ValidatedLineItem per candidate, in order.
// Item-level ambiguity never fails the call: unresolved items degrade to
// a nil factor with a review flag.
func (r *Reconciler) Reconcile(candidates []model.CandidateLineItem) []model.ValidatedLineItem {
	out := make([]model.ValidatedLineItem, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, r.reconcileOne(c))
	}
	return out
}

func (r *Reconciler) reconcileOne(c model.CandidateLineItem) model.ValidatedLineItem {
	v := model.ValidatedLineItem{
		Name:     c.Name,
		Category: c.Category,
		Unit:     c.Unit,
		Quantity: c.Quantity,
	}

	// 1. Exact ID match. The catalog keys are UUID-shaped; anything else
	// the model put in typeId is a guess and falls through to proxying.
	if c.TypeID != "" && uuid.Validate(c.TypeID) == nil {
		if ref, ok := r.cat.ByID(c.TypeID); ok {
			factor := ref.Factor
			v.Factor = &factor
			v.Unit = ref.Unit
			v.Source = ref.Source
			v.MatchType = model.MatchExact
			v.MatchedID = ref.ID
			v.Confidence = model.ConfidenceHigh
			return v
		}
	}

	// 2. Structural-steel linear-measure guard. Structural members are
	// measured by length but catalog factors are per unit mass, and a
	// guessed length-to-mass conversion is worse than asking the user.
	if isStructuralSteelByLength(c) {
		v.MatchType = model.MatchNone
		v.Confidence = model.ConfidenceLow
		v.IsCustom = true
		v.RequiresReview = true
		v.ReviewReason = fmt.Sprintf(
			"%q is measured in %q but structural steel factors are per tonne; confirm the mass before a factor can be applied",
			c.Name, c.Unit,
		)
		return v
	}

	// 3. Category+unit proxy. Buckets are pre-sorted descending by
	// factor with ID tiebreak, so taking the head is the conservative,
	// reproducible choice.
	if matches := r.cat.CategoryUnit(c.Category, c.Unit); len(matches) > 0 {
		return proxied(v, matches[0], model.MatchProxy)
	}

	// 4. Keyword proxy over the fixed material-family vocabulary.
	name := catalog.Fold(c.Name)
	cat := catalog.Fold(c.Category)
	for _, kw := range keywordVocabulary {
		if !strings.Contains(name, kw) && !strings.Contains(cat, kw) {
			continue
		}
		if matches := r.cat.KeywordUnit(kw, c.Unit); len(matches) > 0 {
			return proxied(v, matches[0], model.MatchKeyword)
		}
		break
	}

	// 5. No match: the correctness-critical default.
	v.MatchType = model.MatchNone
	v.Confidence = model.ConfidenceLow
	v.IsCustom = true
	v.RequiresReview = true
	v.ReviewReason = fmt.Sprintf(
		"no reference material matches name=%q category=%q unit=%q",
		c.Name, c.Category, c.Unit,
	)
	return v
}

func proxied(v model.ValidatedLineItem, ref model.ReferenceMaterial, mt model.MatchType) model.ValidatedLineItem {
	factor := ref.Factor
	v.Factor = &factor
	v.Source = ref.Source
	v.MatchType = mt
	v.MatchedID = ref.ID
	v.Confidence = model.ConfidenceMedium
	v.IsCustom = true
	return v
}
