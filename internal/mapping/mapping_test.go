package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanscovill/jp-work-automation/internal/transform"
)

const jsonMapping = `{
  "pages": [
    {"general-information": {
      "companyName": {"data_key": "company", "type": "text"},
      "startDate":   {"data_key": "START", "type": "date"},
      "workType":    {"data_key": "WORK_TYPE", "type": "radio"},
      "hoursSelect": {"data_key": "HOURS", "type": "select"}
    }},
    {"project-location": {
      "siteAddress": {"data_key": "ADDRESS", "type": "address"},
      "confirm":     {"data_key": "CONFIRM", "type": "checkbox"}
    }}
  ],
  "transformations": {
    "WORK_TYPE": {"type": "dynamic", "source_fields": ["ASBESTOS", "LEAD"], "value_map": {"ASBESTOS": "rdAsbestos", "LEAD": "rdLead"}},
    "HOURS":     {"type": "map", "values": {"8": "1: Hours"}}
  }
}`

func TestParseJSONKeepsOrder(t *testing.T) {
	m, err := Parse([]byte(jsonMapping))
	require.NoError(t, err)

	assert.Equal(t, []string{"general-information", "project-location"}, m.PageNames())

	page, ok := m.Page("general-information")
	require.True(t, ok)
	ids := make([]string, 0, len(page.Fields))
	for _, f := range page.Fields {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"companyName", "startDate", "workType", "hoursSelect"}, ids)
	assert.Equal(t, FieldDate, page.Fields[1].Type)

	require.Len(t, m.Transformations, 2)
	assert.Equal(t, transform.KindDynamic, m.Transformations["WORK_TYPE"].Kind())
	assert.Equal(t, transform.KindMap, m.Transformations["HOURS"].Kind())
	assert.Empty(t, m.Warnings)
}

func TestParseYAMLObjectPages(t *testing.T) {
	doc := `
pages:
  general-information:
    companyName: {data_key: company, type: text}
  contacts:
    firstName: {data_key: FIRST_NAME, type: text}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"general-information", "contacts"}, m.PageNames())
	assert.Empty(t, m.Transformations)
}

func TestParseSkipsMalformedFields(t *testing.T) {
	doc := `
pages:
  - general-information:
      good:    {data_key: company, type: text}
      unknown: {data_key: x, type: slider}
      scalar:  text
transformations:
  COMPOSITE: {type: composite, fields: [A, B]}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)

	page, _ := m.Page("general-information")
	require.Len(t, page.Fields, 1)
	assert.Equal(t, "good", page.Fields[0].ID)

	assert.Len(t, m.Warnings, 3)
	assert.Empty(t, m.Transformations)
}

func TestParseRejectsDuplicates(t *testing.T) {
	tests := map[string]string{
		"duplicate page": `
pages:
  - a: {f: {data_key: k, type: text}}
  - a: {g: {data_key: k, type: text}}
`,
		"duplicate field": `
pages:
  - a:
      f: {data_key: k, type: text}
      f: {data_key: j, type: text}
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseStructuralErrors(t *testing.T) {
	tests := map[string]string{
		"not an object":    `[1, 2]`,
		"no pages":         `{"transformations": {}}`,
		"pages scalar":     `{"pages": "x"}`,
		"fields not object": `{"pages": [{"a": [1]}]}`,
		"invalid":          `{`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseWarnsOnUnusedRule(t *testing.T) {
	doc := `
pages:
  - a: {f: {data_key: k, type: text}}
transformations:
  ORPHAN: {type: map, values: {x: y}}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, m.Warnings, 1)
	assert.Contains(t, m.Warnings[0], "ORPHAN")
}

func TestCheckRecord(t *testing.T) {
	m, err := Parse([]byte(jsonMapping))
	require.NoError(t, err)

	assert.Len(t, m.CheckRecord(Record{"company": "Acme"}), 1)
	assert.Empty(t, m.CheckRecord(Record{"LEAD": ""}))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.json")
	require.NoError(t, os.WriteFile(path, []byte(jsonMapping), 0644))

	m, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, m.Pages, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseFieldType(t *testing.T) {
	for _, ft := range AllFieldTypes() {
		got, err := ParseFieldType(ft.String())
		require.NoError(t, err)
		assert.Equal(t, ft, got)
	}
	got, err := ParseFieldType(" Checkbox ")
	require.NoError(t, err)
	assert.Equal(t, FieldCheckbox, got)

	_, err = ParseFieldType("slider")
	assert.Error(t, err)
	assert.True(t, FieldRadio.IsToggle())
	assert.False(t, FieldSelect.IsToggle())
}
