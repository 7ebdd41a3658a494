package session

import (
	"fmt"

	"github.com/ryanscovill/jp-work-automation/internal/form"
	"github.com/ryanscovill/jp-work-automation/internal/mapping"
)

// FieldPreview is the value a field would receive, without a browser.
type FieldPreview struct {
	FieldID string `json:"field_id"`
	DataKey string `json:"data_key"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Skipped bool   `json:"skipped"`
}

// PagePreview lists the previews of one configured page.
type PagePreview struct {
	Page   string         `json:"page"`
	Fields []FieldPreview `json:"fields"`
}

// Preview resolves transformed values for one page, or every page when
// pageName is empty.
func Preview(m mapping.Mapping, record mapping.Record, pageName string) ([]PagePreview, error) {
	pages := m.Pages
	if pageName != "" {
		p, ok := m.Page(pageName)
		if !ok {
			return nil, fmt.Errorf("page %q is not configured", pageName)
		}
		pages = []mapping.Page{p}
	}

	out := make([]PagePreview, 0, len(pages))
	for _, p := range pages {
		pp := PagePreview{Page: p.Name, Fields: make([]FieldPreview, 0, len(p.Fields))}
		for _, f := range p.Fields {
			v := form.ResolveValue(f, record, m.Transformations)
			pp.Fields = append(pp.Fields, FieldPreview{
				FieldID: f.ID,
				DataKey: f.DataKey,
				Type:    f.Type.String(),
				Value:   v,
				Skipped: v == "",
			})
		}
		out = append(out, pp)
	}
	return out, nil
}
