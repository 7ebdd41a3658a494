package pdfdata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterFields(t *testing.T) {
	rec := FilterFields(map[string]string{
		"PROJECT ADDRESS": "123 Main St",
		"Check Box12":     "Yes",
		"check box 3":     "Off",
		"CONTRACTOR":      "Acme Co",
	})

	assert.Len(t, rec, 2)
	assert.Equal(t, "123 Main St", rec["PROJECT ADDRESS"])
	assert.Equal(t, "Acme Co", rec["CONTRACTOR"])
	assert.NotContains(t, rec, "Check Box12")
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty document", "", "Low"},
		{"moderate wins", "Moderate Risk work. moderate risk again. low risk once.", "Moderate"},
		{"high wins", "HIGH RISK high risk High Risk moderate risk", "High"},
		{"tie favours lower risk", "high risk and moderate risk", "Moderate"},
		{"three-way tie", "low risk moderate risk high risk", "Low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RiskLevel(CountRisks(tt.text)))
		})
	}
}

func TestCountRisks(t *testing.T) {
	counts := CountRisks("Low Risk\nLOW RISK\nhigh risk")
	assert.Equal(t, map[string]int{"low risk": 2, "moderate risk": 0, "high risk": 1}, counts)
}

func TestSplitManager(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		first     string
		last      string
		phone     string
		wantMatch bool
	}{
		{"dash separated", "Jane Doe - (604) 555-1234", "Jane", "Doe", "(604) 555-1234", true},
		{"middle name kept in last", "Jane Q Doe 604-555-1234", "Jane", "Q Doe", "604-555-1234", true},
		{"phone first", "6045551234 - Sam", "Sam", "", "6045551234", true},
		{"phone only", "604 555 1234", "", "", "604 555 1234", true},
		{"no phone", "Jane Doe", "", "", "", false},
		{"empty", "", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last, phone, ok := SplitManager(tt.in)
			assert.Equal(t, tt.wantMatch, ok)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
			assert.Equal(t, tt.phone, phone)
		})
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, err := Extract(filepath.Join(t.TempDir(), "missing.pdf"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open pdf")
}
