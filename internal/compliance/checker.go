// Package compliance evaluates computed emission totals against
// Australian building standards. Each standard is a table of independent
// threshold checks over the totals and project metadata; evaluation is
// stateless and purely derived from its inputs.
package compliance

import (
	_ "embed"
	"fmt"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/terrametric/carbon-cli/internal/model"
)

//go:embed standards.yaml
var standardsYAML []byte

// Standard is one requirement table.
type Standard struct {
	Name         string        `yaml:"name"`
	Applies      string        `yaml:"applies"` // buildings, infrastructure, all
	Requirements []Requirement `yaml:"requirements"`
}

// Requirement is a single threshold check. Exactly one of Max or Min is
// set; Metric names a value derived from the totals and project.
type Requirement struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Metric      string   `yaml:"metric"`
	Max         *float64 `yaml:"max"`
	Min         *float64 `yaml:"min"`
}

// Checker holds the parsed requirement tables.
type Checker struct {
	standards []Standard
}

// New parses the embedded requirement tables.
func New() (*Checker, error) {
	var wrapper struct {
		Standards []Standard `yaml:"standards"`
	}
	if err := yaml.Unmarshal(standardsYAML, &wrapper); err != nil {
		return nil, eris.Wrap(err, "compliance: parse standards")
	}
	for _, s := range wrapper.Standards {
		if len(s.Requirements) == 0 {
			return nil, eris.Errorf("compliance: standard %q has no requirements", s.Name)
		}
		for _, r := range s.Requirements {
			if (r.Max == nil) == (r.Min == nil) {
				return nil, eris.Errorf("compliance: requirement %q needs exactly one of max/min", r.ID)
			}
		}
	}
	return &Checker{standards: wrapper.Standards}, nil
}

// Check evaluates every applicable standard. Green Star and NCC apply to
// buildings, IS Rating to infrastructure projects, EN 15978 to both.
func (c *Checker) Check(totals model.Totals, project model.Project) []model.StandardResult {
	out := make([]model.StandardResult, 0, len(c.standards))
	for _, s := range c.standards {
		if !applies(s.Applies, project) {
			continue
		}
		out = append(out, evaluate(s, totals, project))
	}
	return out
}

func applies(scope string, p model.Project) bool {
	switch scope {
	case "buildings":
		return !p.Infrastructure
	case "infrastructure":
		return p.Infrastructure
	default:
		return true
	}
}

func evaluate(s Standard, totals model.Totals, project model.Project) model.StandardResult {
	res := model.StandardResult{
		Standard:     s.Name,
		Requirements: make([]model.RequirementResult, 0, len(s.Requirements)),
	}

	met := 0
	for _, r := range s.Requirements {
		rr := check(r, totals, project)
		if rr.Met {
			met++
		}
		res.Requirements = append(res.Requirements, rr)
	}

	switch {
	case met == len(s.Requirements):
		res.Status = model.StatusCompliant
	case met*2 < len(s.Requirements):
		res.Status = model.StatusNonCompliant
	default:
		res.Status = model.StatusPartial
	}
	return res
}

func check(r Requirement, totals model.Totals, project model.Project) model.RequirementResult {
	rr := model.RequirementResult{ID: r.ID, Description: r.Description}

	value, err := metricValue(r.Metric, totals, project)
	if err != nil {
		rr.Detail = err.Error()
		return rr
	}

	switch {
	case r.Max != nil:
		rr.Met = value <= *r.Max
		rr.Detail = fmt.Sprintf("%s = %.2f (limit %.2f)", r.Metric, value, *r.Max)
	case r.Min != nil:
		rr.Met = value >= *r.Min
		rr.Detail = fmt.Sprintf("%s = %.2f (minimum %.2f)", r.Metric, value, *r.Min)
	}
	return rr
}

func metricValue(metric string, t model.Totals, p model.Project) (float64, error) {
	switch metric {
	case "total":
		return t.Total, nil
	case "scope1":
		return t.Scope1, nil
	case "scope2":
		return t.Scope2, nil
	case "scope3":
		return t.Scope3, nil
	case "materials":
		return t.Materials, nil
	case "materials_gross":
		return t.MaterialsGross, nil
	case "construction":
		return t.Fuel + t.Equipment, nil
	case "total_per_m2", "scope1_per_m2", "scope2_per_m2", "materials_per_m2", "waste_per_m2":
		if p.FloorAreaM2 <= 0 {
			return 0, eris.New("floor area not provided")
		}
		switch metric {
		case "total_per_m2":
			return t.Total / p.FloorAreaM2, nil
		case "scope1_per_m2":
			return t.Scope1 / p.FloorAreaM2, nil
		case "scope2_per_m2":
			return t.Scope2 / p.FloorAreaM2, nil
		case "materials_per_m2":
			return t.Materials / p.FloorAreaM2, nil
		default:
			return t.Waste / p.FloorAreaM2, nil
		}
	case "materials_share", "transport_share":
		if t.Total <= 0 {
			return 0, eris.New("project total is zero")
		}
		if metric == "materials_share" {
			return t.Materials / t.Total, nil
		}
		return t.Transport / t.Total, nil
	default:
		return 0, eris.Errorf("unknown metric %q", metric)
	}
}
