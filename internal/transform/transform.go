// Package transform converts raw data values into the values typed or
// selected in the hosted form.
package transform

// Kind names a transformation rule variant as written in the mapping file.
type Kind string

const (
	KindMap     Kind = "map"
	KindDynamic Kind = "dynamic"
)

// Rule is a closed set of transformation variants: MapRule and DynamicRule.
type Rule interface {
	Kind() Kind
	apply(raw string, record map[string]string) string
}

// MapRule replaces a raw value through a lookup table. Misses pass through.
type MapRule struct {
	Values map[string]string
}

func (MapRule) Kind() Kind { return KindMap }

func (r MapRule) apply(raw string, _ map[string]string) string {
	if mapped, ok := r.Values[raw]; ok {
		return mapped
	}
	return raw
}

// DynamicRule picks its value from the first populated source field.
// With a ValueMap the result is ValueMap[field]; without one it is the
// field's own value.
type DynamicRule struct {
	SourceFields []string
	ValueMap     map[string]string
}

func (DynamicRule) Kind() Kind { return KindDynamic }

func (r DynamicRule) apply(_ string, record map[string]string) string {
	for _, field := range r.SourceFields {
		v, ok := record[field]
		if !ok || !truthy(v) {
			continue
		}
		if len(r.ValueMap) > 0 {
			return r.ValueMap[field]
		}
		return v
	}
	return ""
}

// Rules maps data keys to their transformation.
type Rules map[string]Rule

// Has reports whether a rule is registered for key.
func (rs Rules) Has(key string) bool {
	_, ok := rs[key]
	return ok
}

// Apply returns the value to write for key. It never mutates its inputs.
func Apply(key, raw string, record map[string]string, rules Rules) string {
	rule, ok := rules[key]
	if !ok || rule == nil {
		return raw
	}
	return rule.apply(raw, record)
}

// truthy mirrors how the data files mark unchecked boxes: empty strings and
// explicit false markers do not select a source field.
func truthy(v string) bool {
	switch v {
	case "", "false", "False", "FALSE", "0", "Off", "off":
		return false
	}
	return true
}
