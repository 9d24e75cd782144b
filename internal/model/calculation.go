package model

import "time"

// FuelInput is a single fuel consumption entry (Scope 1).
type FuelInput struct {
	FuelType string  `json:"fuelType"` // diesel, petrol, lpg, natural_gas
	Quantity float64 `json:"quantity"` // litres (or GJ for natural_gas)
	Factor   float64 `json:"factor"`   // kgCO2e per unit
}

// ElectricityInput is purchased-energy consumption (Scope 2).
type ElectricityInput struct {
	KWh             float64 `json:"kwh"`
	GridFactor      float64 `json:"gridFactor"`      // kgCO2e/kWh for the project's state
	GreenPowerPct   float64 `json:"greenPowerPct"`   // 0..100, offsets grid draw
	SequesteredCred float64 `json:"sequesteredCred"` // kgCO2e credit, stored positive
}

// TransportInput is a freight/transport leg (Scope 3).
type TransportInput struct {
	Mode   string  `json:"mode"` // road, rail, sea, air
	Tonnes float64 `json:"tonnes"`
	Km     float64 `json:"km"`
	Factor float64 `json:"factor"` // kgCO2e per tonne-km
}

// WasteInput is a waste-stream entry (Scope 3).
type WasteInput struct {
	Stream   string  `json:"stream"` // landfill, recycling, cleanfill
	Tonnes   float64 `json:"tonnes"`
	Factor   float64 `json:"factor"` // kgCO2e per tonne
	Diverted bool    `json:"diverted"`
}

// EquipmentInput is on-site construction equipment usage (Scope 1).
type EquipmentInput struct {
	Equipment string  `json:"equipment"`
	Hours     float64 `json:"hours"`
	Factor    float64 `json:"factor"` // kgCO2e per hour
}

// CalculationInputs is the full set of user-entered data for one save.
type CalculationInputs struct {
	Materials   []ValidatedLineItem `json:"materials"`
	Fuel        []FuelInput         `json:"fuel"`
	Electricity *ElectricityInput   `json:"electricity,omitempty"`
	Transport   []TransportInput    `json:"transport"`
	Waste       []WasteInput        `json:"waste"`
	Equipment   []EquipmentInput    `json:"equipment"`

	// Sequestration credits declared against materials, stored as a
	// positive magnitude and subtracted from the materials total.
	SequestrationKg float64 `json:"sequestrationKg"`
}

// Totals holds computed emissions in kgCO2e per scope and category.
type Totals struct {
	Scope1 float64 `json:"scope1"`
	Scope2 float64 `json:"scope2"`
	Scope3 float64 `json:"scope3"`
	Total  float64 `json:"total"`

	Fuel          float64 `json:"fuel"`
	Electricity   float64 `json:"electricity"`
	Materials     float64 `json:"materials"` // net of sequestration
	MaterialsGross float64 `json:"materialsGross"`
	Transport     float64 `json:"transport"`
	Waste         float64 `json:"waste"`
	Equipment     float64 `json:"equipment"`
}

// Project carries the metadata the compliance checker needs.
type Project struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	State          string  `json:"state"` // NSW, VIC, QLD, ...
	FloorAreaM2    float64 `json:"floorAreaM2"`
	Infrastructure bool    `json:"infrastructure"` // IS Rating applies instead of Green Star
}

// CalculationRecord is an immutable snapshot of inputs and computed totals.
// New saves create new records; existing records are never mutated.
type CalculationRecord struct {
	ID         string            `json:"id"`
	ProjectID  string            `json:"projectId"`
	UserID     string            `json:"userId"`
	Inputs     CalculationInputs `json:"inputs"`
	Totals     Totals            `json:"totals"`
	Compliance []StandardResult  `json:"compliance,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
