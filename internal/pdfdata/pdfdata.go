// Package pdfdata derives a fill record from a completed Notice of Project
// source PDF: its AcroForm field values plus values computed from page text.
package pdfdata

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/mapping"
)

// Keys written by Extract in addition to the form fields.
const (
	KeyProjectManager = "PROJECT MANAGER"
	KeyFirstName      = "FIRST_NAME"
	KeyLastName       = "LAST_NAME"
	KeyPhone          = "PHONE"
	KeyRiskCalc       = "RISK_CALC"
)

// Risk phrases counted in page text, in tie-break order.
var riskPhrases = []struct {
	phrase string
	level  string
}{
	{"low risk", "Low"},
	{"moderate risk", "Moderate"},
	{"high risk", "High"},
}

var phonePattern = regexp.MustCompile(`\(?\d{3}\)?[-\s]?\d{3}[-\s]?\d{4}`)

// Extract reads form fields and page text from the PDF at path and returns
// the derived record.
func Extract(path string, logger *zap.Logger) (mapping.Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pdfdata").With(zap.String("path", path))

	fields, err := FormFields(path)
	if err != nil {
		return nil, err
	}
	text, err := PlainText(path)
	if err != nil {
		return nil, err
	}

	rec := FilterFields(fields)
	counts := CountRisks(text)
	rec[KeyRiskCalc] = RiskLevel(counts)

	first, last, phone, ok := SplitManager(rec[KeyProjectManager])
	if !ok {
		logger.Warn("no phone number in project manager field",
			zap.String("value", rec[KeyProjectManager]))
	}
	rec[KeyFirstName] = first
	rec[KeyLastName] = last
	rec[KeyPhone] = phone

	logger.Debug("pdf data extracted",
		zap.Int("fields", len(rec)),
		zap.String("risk", rec[KeyRiskCalc]),
		zap.Any("risk_counts", counts))
	return rec, nil
}

// FilterFields copies fields into a record, dropping checkbox fields whose
// name contains "check box".
func FilterFields(fields map[string]string) mapping.Record {
	rec := make(mapping.Record, len(fields))
	for name, value := range fields {
		if strings.Contains(strings.ToLower(name), "check box") {
			continue
		}
		rec[name] = value
	}
	return rec
}

// CountRisks counts occurrences of each risk phrase in text, case-insensitively.
func CountRisks(text string) map[string]int {
	lower := strings.ToLower(text)
	counts := make(map[string]int, len(riskPhrases))
	for _, r := range riskPhrases {
		counts[r.phrase] = strings.Count(lower, r.phrase)
	}
	return counts
}

// RiskLevel returns the level of the most frequent phrase. Ties go to the
// lower risk, so an empty document reports "Low".
func RiskLevel(counts map[string]int) string {
	best := riskPhrases[0]
	for _, r := range riskPhrases[1:] {
		if counts[r.phrase] > counts[best.phrase] {
			best = r
		}
	}
	return best.level
}

// SplitManager separates "Jane Q Doe - (604) 555-1234" into first name, the
// rest of the name, and the phone number. ok is false when no phone number is
// present, in which case all parts are empty.
func SplitManager(s string) (first, last, phone string, ok bool) {
	phone = phonePattern.FindString(s)
	if phone == "" {
		return "", "", "", false
	}
	name := strings.Trim(strings.ReplaceAll(s, phone, ""), " -")
	parts := strings.SplitN(strings.TrimSpace(name), " ", 2)
	if len(parts) > 0 {
		first = parts[0]
	}
	if len(parts) > 1 {
		last = strings.TrimSpace(parts[1])
	}
	return first, last, phone, true
}

// PlainText concatenates the plain text of every page.
func PlainText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for n := 1; n <= r.NumPage(); n++ {
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d text: %w", n, err)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// FormFields returns every named terminal AcroForm field and its value.
// Nested fields are keyed by their fully qualified name (parent.child).
func FormFields(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(file, conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}

	fields := map[string]string{}
	root, err := ctx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	acroObj, found := root.Find("AcroForm")
	if !found {
		return fields, nil
	}
	acro, err := ctx.DereferenceDict(acroObj)
	if err != nil {
		return nil, fmt.Errorf("acroform: %w", err)
	}
	if acro == nil {
		return fields, nil
	}
	fieldsObj, found := acro.Find("Fields")
	if !found {
		return fields, nil
	}
	arr, err := ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return nil, fmt.Errorf("acroform fields: %w", err)
	}
	for _, obj := range arr {
		walkField(ctx, obj, "", fields)
	}
	return fields, nil
}

func walkField(ctx *model.Context, obj types.Object, parent string, out map[string]string) {
	dict, err := ctx.DereferenceDict(obj)
	if err != nil || dict == nil {
		return
	}

	name := parent
	if t, found := dict.Find("T"); found {
		if partial, err := ctx.DereferenceStringOrHexLiteral(t, model.V10, nil); err == nil && partial != "" {
			if name != "" {
				name += "."
			}
			name += partial
		}
	}

	if kids, found := dict.Find("Kids"); found {
		if arr, err := ctx.DereferenceArray(kids); err == nil {
			named := false
			for _, kid := range arr {
				if kd, err := ctx.DereferenceDict(kid); err == nil && kd != nil {
					if _, ok := kd.Find("T"); ok {
						named = true
						walkField(ctx, kid, name, out)
					}
				}
			}
			// Kids without names are widget annotations of this field.
			if named {
				return
			}
		}
	}

	if name == "" {
		return
	}
	out[name] = fieldValue(ctx, dict)
}

func fieldValue(ctx *model.Context, dict types.Dict) string {
	v, found := dict.Find("V")
	if !found {
		return ""
	}
	if s, err := ctx.DereferenceStringOrHexLiteral(v, model.V10, nil); err == nil {
		return s
	}
	if n, err := ctx.DereferenceName(v, model.V10, nil); err == nil {
		if n == "Off" {
			return ""
		}
		return string(n)
	}
	if arr, err := ctx.DereferenceArray(v); err == nil {
		var values []string
		for _, item := range arr {
			if s, err := ctx.DereferenceStringOrHexLiteral(item, model.V10, nil); err == nil {
				values = append(values, s)
			}
		}
		return strings.Join(values, ", ")
	}
	return ""
}
