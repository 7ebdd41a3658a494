// Package mapping loads the page/field mapping that binds on-page controls to
// data keys, together with the value transformations.
package mapping

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ryanscovill/jp-work-automation/internal/transform"
)

// Field binds one on-page control to a data key.
type Field struct {
	ID      string
	DataKey string
	Type    FieldType
}

// Page is one logical step of the hosted form.
type Page struct {
	Name   string
	Fields []Field
}

// Mapping is the parsed mapping document. Pages keep document order.
type Mapping struct {
	Pages           []Page
	Transformations transform.Rules
	// Warnings lists descriptors that were skipped while loading.
	Warnings []string
}

type fieldDescriptor struct {
	DataKey string `yaml:"data_key"`
	Type    string `yaml:"type"`
}

type ruleDescriptor struct {
	Type         string            `yaml:"type"`
	Values       map[string]string `yaml:"values"`
	SourceFields []string          `yaml:"source_fields"`
	ValueMap     map[string]string `yaml:"value_map"`
}

// LoadFile reads a JSON or YAML mapping document from disk.
func LoadFile(path string) (Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("read mapping: %w", err)
	}
	m, err := Parse(raw)
	if err != nil {
		return Mapping{}, fmt.Errorf("mapping %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a mapping document. JSON is accepted as a YAML subset.
func Parse(raw []byte) (Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Mapping{}, fmt.Errorf("parse: %w", err)
	}
	return FromNode(&doc)
}

// FromNode decodes an already parsed mapping node (for instance the nop block
// of the main config).
func FromNode(node *yaml.Node) (Mapping, error) {
	if node == nil {
		return Mapping{}, errors.New("empty mapping document")
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return Mapping{}, errors.New("empty mapping document")
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return Mapping{}, fmt.Errorf("mapping document must be an object, got %s", kindName(node.Kind))
	}

	m := Mapping{Transformations: transform.Rules{}}
	var pagesNode, rulesNode *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch strings.ToLower(node.Content[i].Value) {
		case "pages":
			pagesNode = node.Content[i+1]
		case "transformations":
			rulesNode = node.Content[i+1]
		}
	}
	if pagesNode == nil {
		return Mapping{}, errors.New("mapping document has no pages")
	}

	if err := m.decodePages(pagesNode); err != nil {
		return Mapping{}, err
	}
	if rulesNode != nil {
		if err := m.decodeRules(rulesNode); err != nil {
			return Mapping{}, err
		}
	}
	m.checkUnusedRules()
	return m, nil
}

// decodePages accepts either a sequence of single-key objects
// ([{"page": {...}}, ...]) or one object keyed by page name.
func (m *Mapping) decodePages(node *yaml.Node) error {
	seen := make(map[string]bool)
	add := func(nameNode, fieldsNode *yaml.Node) error {
		name := strings.TrimSpace(nameNode.Value)
		if name == "" {
			return fmt.Errorf("line %d: page name is empty", nameNode.Line)
		}
		if seen[name] {
			return fmt.Errorf("line %d: duplicate page %q", nameNode.Line, name)
		}
		seen[name] = true
		page, err := m.decodeFields(name, fieldsNode)
		if err != nil {
			return err
		}
		m.Pages = append(m.Pages, page)
		return nil
	}

	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: page entry must be an object", item.Line)
			}
			for i := 0; i+1 < len(item.Content); i += 2 {
				if err := add(item.Content[i], item.Content[i+1]); err != nil {
					return err
				}
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if err := add(node.Content[i], node.Content[i+1]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("line %d: pages must be a list or an object", node.Line)
	}
	return nil
}

func (m *Mapping) decodeFields(pageName string, node *yaml.Node) (Page, error) {
	page := Page{Name: pageName}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return page, nil
	}
	if node.Kind != yaml.MappingNode {
		return page, fmt.Errorf("line %d: fields of page %q must be an object", node.Line, pageName)
	}

	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		idNode, descNode := node.Content[i], node.Content[i+1]
		id := strings.TrimSpace(idNode.Value)
		if seen[id] {
			return page, fmt.Errorf("line %d: duplicate field %q on page %q", idNode.Line, id, pageName)
		}
		seen[id] = true

		var desc fieldDescriptor
		if err := descNode.Decode(&desc); err != nil {
			m.warnf("page %q field %q: malformed descriptor: %v", pageName, id, err)
			continue
		}
		ft, err := ParseFieldType(desc.Type)
		if err != nil {
			m.warnf("page %q field %q: %v", pageName, id, err)
			continue
		}
		if id == "" {
			m.warnf("page %q: field with empty id skipped", pageName)
			continue
		}
		page.Fields = append(page.Fields, Field{ID: id, DataKey: desc.DataKey, Type: ft})
	}
	return page, nil
}

func (m *Mapping) decodeRules(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: transformations must be an object", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var desc ruleDescriptor
		if err := node.Content[i+1].Decode(&desc); err != nil {
			m.warnf("transformation %q: malformed descriptor: %v", key, err)
			continue
		}
		switch transform.Kind(strings.ToLower(desc.Type)) {
		case transform.KindMap:
			m.Transformations[key] = transform.MapRule{Values: desc.Values}
		case transform.KindDynamic:
			if len(desc.SourceFields) == 0 {
				m.warnf("transformation %q: dynamic rule has no source_fields", key)
			}
			m.Transformations[key] = transform.DynamicRule{SourceFields: desc.SourceFields, ValueMap: desc.ValueMap}
		default:
			m.warnf("transformation %q: unsupported type %q ignored", key, desc.Type)
		}
	}
	return nil
}

func (m *Mapping) checkUnusedRules() {
	used := make(map[string]bool)
	for _, p := range m.Pages {
		for _, f := range p.Fields {
			used[f.DataKey] = true
		}
	}
	keys := make([]string, 0, len(m.Transformations))
	for k := range m.Transformations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !used[k] {
			m.warnf("transformation %q is not referenced by any field", k)
		}
	}
}

func (m *Mapping) warnf(format string, args ...interface{}) {
	m.Warnings = append(m.Warnings, fmt.Sprintf(format, args...))
}

// Page returns the page definition with the given name.
func (m Mapping) Page(name string) (Page, bool) {
	for _, p := range m.Pages {
		if p.Name == name {
			return p, true
		}
	}
	return Page{}, false
}

// PageNames lists page names in configured order.
func (m Mapping) PageNames() []string {
	names := make([]string, len(m.Pages))
	for i, p := range m.Pages {
		names[i] = p.Name
	}
	return names
}

// CheckRecord reports dynamic rules whose source fields are all absent from
// the record. Such rules always yield an empty value.
func (m Mapping) CheckRecord(record Record) []string {
	var problems []string
	keys := make([]string, 0, len(m.Transformations))
	for k := range m.Transformations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rule, ok := m.Transformations[k].(transform.DynamicRule)
		if !ok || len(rule.SourceFields) == 0 {
			continue
		}
		present := false
		for _, f := range rule.SourceFields {
			if _, ok := record[f]; ok {
				present = true
				break
			}
		}
		if !present {
			problems = append(problems, fmt.Sprintf("transformation %q: none of %v are present in the data record", k, rule.SourceFields))
		}
	}
	return problems
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "object"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
