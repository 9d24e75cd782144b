package reconcile

import (
	"regexp"
	"strings"

	"github.com/terrametric/carbon-cli/internal/catalog"
	"github.com/terrametric/carbon-cli/internal/model"
)

// Hot-rolled section designations as they appear in BOQs: "200UC59.5",
// "310 UB 40.4", "150PFC", "89x89x5 SHS".
var steelSectionPattern = regexp.MustCompile(`(?i)\d+\s*(ub|uc|pfc|shs|rhs|chs)(\d|\b)`)

// steelTerms flag a steel-family item by name.
var steelTerms = []string{
	"steel",
	"universal beam",
	"universal column",
	"parallel flange channel",
	"hollow section",
}

// framingTerms are light-gauge framing vocabulary: these members have
// reliable per-metre catalog entries, so the linear-measure guard must
// not trip on them.
var framingTerms = []string{
	"stud",
	"track",
	"furring",
	"ceiling channel",
	"wall channel",
	"top hat",
}

// linearUnits are the length units BOQs use for steel members.
var linearUnits = map[string]bool{
	"m":      true,
	"lm":     true,
	"mm":     true,
	"lin m":  true,
	"lin.m":  true,
	"metre":  true,
	"metres": true,
	"meter":  true,
	"meters": true,
	"m run":  true,
}

// isStructuralSteelByLength reports whether the candidate is a
// structural steel member quantified by length, which cannot be safely
// converted to a mass-based emission factor.
func isStructuralSteelByLength(c model.CandidateLineItem) bool {
	if !linearUnits[catalog.Fold(c.Unit)] {
		return false
	}

	name := catalog.Fold(c.Name)

	for _, t := range framingTerms {
		if strings.Contains(name, t) {
			return false
		}
	}

	if steelSectionPattern.MatchString(name) {
		return true
	}
	for _, t := range steelTerms {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}
