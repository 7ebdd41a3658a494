package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Record is the flat data record the form is filled from.
type Record map[string]string

// Get returns the value for key, or "" when absent.
func (r Record) Get(key string) string {
	if key == "" {
		return ""
	}
	return r[key]
}

// LoadRecord reads a JSON object of scalars from disk.
func LoadRecord(path string) (Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	rec, err := ParseRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("data file %s: %w", path, err)
	}
	return rec, nil
}

// ParseRecord decodes a JSON object, stringifying numbers and booleans.
// Nested values are rejected: the record must be flat.
func ParseRecord(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	rec := make(Record, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
			rec[k] = ""
		case string:
			rec[k] = val
		case json.Number:
			rec[k] = val.String()
		case bool:
			rec[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("key %q: nested values are not supported", k)
		}
	}
	return rec, nil
}
