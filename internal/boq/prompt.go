package boq

import (
	"fmt"
	"strings"

	"github.com/terrametric/carbon-cli/internal/catalog"
	"github.com/terrametric/carbon-cli/internal/model"
)

const systemPromptHeader = `You are a quantity surveyor extracting material line items from an Australian construction bill of quantities.

Return ONLY a JSON array. Each element:
{"name": "<material description>", "category": "<category>", "unit": "<unit of measure>", "quantity": <number>, "typeId": "<id from the reference list below if one clearly matches, else omit>"}

Rules:
- Extract every material line item with a quantity. Skip labour, preliminaries and provisional sums.
- Use the reference material list to pick categories and units. If a reference entry clearly matches the item, set typeId to its id.
- Use null for anything unknown. Never invent emission factors.
- If no material line items are present, return [].

Reference materials (grouped by category):
`

// systemPrompt renders the extraction system prompt with a curated
// catalog sample. The per-category cap on the sample keeps the prompt
// bounded regardless of catalog size.
func systemPrompt(sample []model.ReferenceMaterial) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)

	currentCat := ""
	for _, m := range sample {
		cat := catalog.Fold(m.Category)
		if cat != currentCat {
			currentCat = cat
			fmt.Fprintf(&b, "\n## %s\n", m.Category)
		}
		fmt.Fprintf(&b, "- id=%s name=%q unit=%s\n", m.ID, m.Name, m.Unit)
	}
	return b.String()
}
