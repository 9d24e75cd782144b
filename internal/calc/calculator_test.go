package calc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrametric/carbon-cli/internal/model"
)

func f(v float64) *float64 { return &v }

func TestComputeMaterials(t *testing.T) {
	t.Parallel()

	totals := Compute(model.CalculationInputs{
		Materials: []model.ValidatedLineItem{
			{Name: "Concrete slab", Quantity: 10, Factor: f(300)},
			{Name: "Steel", Quantity: 2, Factor: f(2500)},
			{Name: "Unresolved", Quantity: 99, Factor: nil},
		},
	})

	assert.Equal(t, 8000.0, totals.MaterialsGross) // 3000 + 5000, nil factor contributes nothing
	assert.Equal(t, 8000.0, totals.Materials)
	assert.Equal(t, 8000.0, totals.Scope3)
	assert.Equal(t, 8000.0, totals.Total)
}

func TestComputeSequestrationSubtracts(t *testing.T) {
	t.Parallel()

	totals := Compute(model.CalculationInputs{
		Materials: []model.ValidatedLineItem{
			{Name: "Timber frame", Quantity: 10, Factor: f(100)},
		},
		SequestrationKg: 250,
	})

	assert.Equal(t, 1000.0, totals.MaterialsGross)
	assert.Equal(t, 750.0, totals.Materials)
}

func TestComputeScopes(t *testing.T) {
	t.Parallel()

	totals := Compute(model.CalculationInputs{
		Fuel: []model.FuelInput{
			{FuelType: "diesel", Quantity: 1000, Factor: 2.68},
		},
		Equipment: []model.EquipmentInput{
			{Equipment: "excavator", Hours: 40, Factor: 50},
		},
		Electricity: &model.ElectricityInput{KWh: 10000, GridFactor: 0.73},
		Transport: []model.TransportInput{
			{Mode: "road", Tonnes: 20, Km: 100, Factor: 0.1},
		},
		Waste: []model.WasteInput{
			{Stream: "landfill", Tonnes: 5, Factor: 80},
			{Stream: "recycling", Tonnes: 10, Factor: 80, Diverted: true},
		},
	})

	assert.InDelta(t, 2680+2000, totals.Scope1, 1e-9)
	assert.InDelta(t, 7300, totals.Scope2, 1e-9)
	assert.InDelta(t, 200+400, totals.Scope3, 1e-9)
	assert.InDelta(t, totals.Scope1+totals.Scope2+totals.Scope3, totals.Total, 1e-9)
}

func TestComputeGreenPowerOffset(t *testing.T) {
	t.Parallel()

	totals := Compute(model.CalculationInputs{
		Electricity: &model.ElectricityInput{KWh: 10000, GridFactor: 0.8, GreenPowerPct: 25},
	})
	assert.InDelta(t, 10000*0.75*0.8, totals.Electricity, 1e-9)

	fully := Compute(model.CalculationInputs{
		Electricity: &model.ElectricityInput{KWh: 10000, GridFactor: 0.8, GreenPowerPct: 100},
	})
	assert.Zero(t, fully.Electricity)
}

func TestComputeElectricityNeverNegative(t *testing.T) {
	t.Parallel()

	totals := Compute(model.CalculationInputs{
		Electricity: &model.ElectricityInput{KWh: 100, GridFactor: 0.5, SequesteredCred: 1000},
	})
	assert.Zero(t, totals.Electricity)
}

func TestValidateRejectsNegativeQuantity(t *testing.T) {
	t.Parallel()

	err := Validate(model.CalculationInputs{
		Materials: []model.ValidatedLineItem{
			{Name: "Concrete", Quantity: -5, Factor: f(300)},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative quantity")
}

func TestValidateRejectsNegativeFactor(t *testing.T) {
	t.Parallel()

	err := Validate(model.CalculationInputs{
		Materials: []model.ValidatedLineItem{
			{Name: "Concrete", Quantity: 5, Factor: f(-1)},
		},
	})
	assert.Error(t, err)
}

func TestValidateRejectsNegativeSequesteredCredit(t *testing.T) {
	t.Parallel()

	err := Validate(model.CalculationInputs{
		Electricity: &model.ElectricityInput{KWh: 100, GridFactor: 1, SequesteredCred: -50},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequestered credit")
}

func TestValidateRejectsOutOfRangeGreenPower(t *testing.T) {
	t.Parallel()

	err := Validate(model.CalculationInputs{
		Electricity: &model.ElectricityInput{KWh: 10, GridFactor: 1, GreenPowerPct: 120},
	})
	assert.Error(t, err)
}

func TestValidateAcceptsWellFormedInputs(t *testing.T) {
	t.Parallel()

	err := Validate(model.CalculationInputs{
		Materials: []model.ValidatedLineItem{
			{Name: "Concrete", Quantity: 10, Factor: f(300)},
			{Name: "Pending review", Quantity: 3, Factor: nil},
		},
		Fuel:            []model.FuelInput{{FuelType: "diesel", Quantity: 100, Factor: 2.68}},
		SequestrationKg: 50,
	})
	assert.NoError(t, err)
}

func TestEndToEndProxyScenario(t *testing.T) {
	t.Parallel()

	// Candidate matched by proxy to a catalog factor of 300 contributes
	// 10 x 300 = 3000 kgCO2e.
	totals := Compute(model.CalculationInputs{
		Materials: []model.ValidatedLineItem{{
			Name: "Concrete slab", Category: "concrete", Unit: "m3",
			Quantity: 10, Factor: f(300), IsCustom: true,
			MatchType: model.MatchProxy,
		}},
	})
	assert.Equal(t, 3000.0, totals.Materials)
}
