// Package calc computes greenhouse-gas emission totals from validated
// inputs. Everything here is a pure function of its arguments: no
// lookups, no I/O, no partial results. Input validation happens at the
// boundary (Validate); Compute itself is total.
package calc

import (
	"github.com/rotisserie/eris"

	"github.com/terrametric/carbon-cli/internal/model"
)

// Validate rejects inputs that must never reach Compute: negative
// quantities and negative factors. It returns the first violation found.
func Validate(in model.CalculationInputs) error {
	for _, m := range in.Materials {
		if m.Quantity < 0 {
			return eris.Errorf("calc: material %q has negative quantity %v", m.Name, m.Quantity)
		}
		if m.Factor != nil && *m.Factor < 0 {
			return eris.Errorf("calc: material %q has negative factor %v", m.Name, *m.Factor)
		}
	}
	for _, f := range in.Fuel {
		if f.Quantity < 0 || f.Factor < 0 {
			return eris.Errorf("calc: fuel %q has negative quantity or factor", f.FuelType)
		}
	}
	if e := in.Electricity; e != nil {
		if e.KWh < 0 || e.GridFactor < 0 {
			return eris.New("calc: electricity has negative kWh or grid factor")
		}
		if e.GreenPowerPct < 0 || e.GreenPowerPct > 100 {
			return eris.Errorf("calc: green power percentage %v out of range", e.GreenPowerPct)
		}
		if e.SequesteredCred < 0 {
			return eris.New("calc: sequestered credit must be a positive magnitude")
		}
	}
	for _, t := range in.Transport {
		if t.Tonnes < 0 || t.Km < 0 || t.Factor < 0 {
			return eris.Errorf("calc: transport %q has negative inputs", t.Mode)
		}
	}
	for _, w := range in.Waste {
		if w.Tonnes < 0 || w.Factor < 0 {
			return eris.Errorf("calc: waste %q has negative inputs", w.Stream)
		}
	}
	for _, eq := range in.Equipment {
		if eq.Hours < 0 || eq.Factor < 0 {
			return eris.Errorf("calc: equipment %q has negative inputs", eq.Equipment)
		}
	}
	if in.SequestrationKg < 0 {
		return eris.New("calc: sequestration credit must be a positive magnitude")
	}
	return nil
}

// Compute derives emission totals in kgCO2e. Scope mapping follows the
// GHG Protocol: fuel and site equipment are Scope 1, purchased
// electricity Scope 2, materials, transport and waste Scope 3.
func Compute(in model.CalculationInputs) model.Totals {
	var t model.Totals

	for _, f := range in.Fuel {
		t.Fuel += f.Quantity * f.Factor
	}
	for _, eq := range in.Equipment {
		t.Equipment += eq.Hours * eq.Factor
	}

	if e := in.Electricity; e != nil {
		// Green power offsets a percentage of grid draw before the grid
		// factor applies.
		gridKWh := e.KWh * (1 - e.GreenPowerPct/100)
		elec := gridKWh*e.GridFactor - e.SequesteredCred
		if elec < 0 {
			elec = 0
		}
		t.Electricity = elec
	}

	for _, m := range in.Materials {
		if m.Factor == nil {
			continue // unresolved items contribute nothing until reviewed
		}
		t.MaterialsGross += m.Quantity * *m.Factor
	}
	t.Materials = t.MaterialsGross - in.SequestrationKg

	for _, tr := range in.Transport {
		t.Transport += tr.Tonnes * tr.Km * tr.Factor
	}
	for _, w := range in.Waste {
		if w.Diverted {
			continue // diverted streams carry no landfill emissions
		}
		t.Waste += w.Tonnes * w.Factor
	}

	t.Scope1 = t.Fuel + t.Equipment
	t.Scope2 = t.Electricity
	t.Scope3 = t.Materials + t.Transport + t.Waste
	t.Total = t.Scope1 + t.Scope2 + t.Scope3
	return t
}
