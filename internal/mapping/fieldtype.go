package mapping

import (
	"fmt"
	"strings"
)

// FieldType is the closed set of control categories a field descriptor can name.
// Adding a variant requires extending every exhaustive switch over FieldType.
type FieldType int

const (
	FieldText FieldType = iota + 1
	FieldNumber
	FieldEmail
	FieldTextarea
	FieldSelect
	FieldDate
	FieldTime
	FieldRadio
	FieldCheckbox
	FieldAddress
)

var fieldTypeNames = map[FieldType]string{
	FieldText:     "text",
	FieldNumber:   "number",
	FieldEmail:    "email",
	FieldTextarea: "textarea",
	FieldSelect:   "select",
	FieldDate:     "date",
	FieldTime:     "time",
	FieldRadio:    "radio",
	FieldCheckbox: "checkbox",
	FieldAddress:  "address",
}

// AllFieldTypes lists every variant in declaration order.
func AllFieldTypes() []FieldType {
	return []FieldType{
		FieldText, FieldNumber, FieldEmail, FieldTextarea, FieldSelect,
		FieldDate, FieldTime, FieldRadio, FieldCheckbox, FieldAddress,
	}
}

// ParseFieldType maps a descriptor's type string onto a variant.
func ParseFieldType(s string) (FieldType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for t, name := range fieldTypeNames {
		if name == want {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// IsToggle reports whether the control is a radio or checkbox, whose native
// inputs the hosted app often hides behind styled spans.
func (t FieldType) IsToggle() bool {
	return t == FieldRadio || t == FieldCheckbox
}
