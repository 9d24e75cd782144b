package catalog

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/terrametric/carbon-cli/internal/model"
)

// Admin import of reference materials from CSV/XLSX EPD exports. Column
// mapping is header-driven so exports from different registries load
// without reshaping.

var columnAliases = map[string]string{
	"id":               "id",
	"uuid":             "id",
	"name":             "name",
	"material":         "name",
	"description":      "name",
	"category":         "category",
	"subcategory":      "subcategory",
	"sub_category":     "subcategory",
	"unit":             "unit",
	"uom":              "unit",
	"factor":           "factor",
	"emission_factor":  "factor",
	"kgco2e":           "factor",
	"kgco2e_per_unit":  "factor",
	"source":           "source",
	"data_source":      "source",
	"state":            "state",
	"region":           "region",
}

// ReadCSV parses reference materials from a CSV export. The first row
// must be a header naming at least name, category, unit and factor.
func ReadCSV(r io.Reader) ([]model.ReferenceMaterial, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read CSV header")
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var out []model.ReferenceMaterial
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: read CSV row %d", line+1)
		}
		line++

		m, err := rowToMaterial(record, cols)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: CSV row %d", line)
		}
		out = append(out, m)
	}
	return out, nil
}

// ReadXLSX parses reference materials from the first sheet of an XLSX
// workbook with the same header contract as ReadCSV.
func ReadXLSX(path string) ([]model.ReferenceMaterial, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("catalog: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("catalog: xlsx sheet is empty")
	}

	header := make([]string, 0, len(sheet.Rows[0].Cells))
	for _, cell := range sheet.Rows[0].Cells {
		header = append(header, cell.String())
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var out []model.ReferenceMaterial
	for i, row := range sheet.Rows[1:] {
		record := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			record = append(record, cell.String())
		}
		if blankRow(record) {
			continue
		}
		m, err := rowToMaterial(record, cols)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: xlsx row %d", i+2)
		}
		out = append(out, m)
	}
	return out, nil
}

func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		if canonical, ok := columnAliases[key]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	for _, required := range []string{"name", "category", "unit", "factor"} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("catalog: header missing required column %q", required)
		}
	}
	return cols, nil
}

func rowToMaterial(record []string, cols map[string]int) (model.ReferenceMaterial, error) {
	get := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	factorStr := get("factor")
	factor, err := strconv.ParseFloat(factorStr, 64)
	if err != nil {
		return model.ReferenceMaterial{}, eris.Errorf("invalid factor %q", factorStr)
	}
	if factor < 0 {
		return model.ReferenceMaterial{}, eris.Errorf("negative factor %v", factor)
	}

	m := model.ReferenceMaterial{
		ID:          get("id"),
		Name:        get("name"),
		Category:    get("category"),
		Subcategory: get("subcategory"),
		Unit:        get("unit"),
		Factor:      factor,
		Source:      get("source"),
		State:       get("state"),
		Region:      get("region"),
	}
	if m.Name == "" || m.Category == "" || m.Unit == "" {
		return model.ReferenceMaterial{}, eris.New("name, category and unit are required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return m, nil
}

func blankRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
