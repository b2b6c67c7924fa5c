// Package report renders clinical reports for saved patient records.
package report

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"clinicrew/internal/domain"
	"clinicrew/internal/usecase/roster"
)

// Markdown renders rec and its notes as a markdown document.
func Markdown(rec domain.PatientRecord, notes []domain.ClinicalNote, generated time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Clinical report: %s\n\n", rec.Patient)
	fmt.Fprintf(&b, "_Generated %s_\n\n", generated.UTC().Format("2006-01-02 15:04 MST"))

	b.WriteString("| Field | Value |\n|---|---|\n")
	rows := []struct{ label, value string }{
		{roster.FieldPatient, rec.Patient},
		{roster.FieldRoom, rec.Room},
		{roster.FieldAge, rec.Age},
		{roster.FieldMedicalHistory, strings.Join(rec.MedicalHistory, ", ")},
		{roster.FieldCurrentDiagnosis, rec.CurrentDiagnosis},
		{roster.FieldEvolution, rec.Evolution},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s |\n", r.label, cell(r.value))
	}

	for _, sec := range []struct{ title, body string }{
		{roster.FieldPlan, rec.Plan},
		{roster.FieldObservations, rec.Observations},
		{roster.FieldClinicalSummary, rec.ClinicalSummary},
	} {
		if strings.TrimSpace(sec.body) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", sec.title, strings.TrimSpace(sec.body))
	}

	if len(notes) > 0 {
		b.WriteString("\n## Clinical notes\n\n")
		for _, n := range notes {
			author := n.Author
			if author == "" {
				author = "unknown"
			}
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", n.CreatedAt.UTC().Format("2006-01-02 15:04"), author, oneLine(n.Text))
		}
	}
	return b.String()
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// slug turns a patient name into a file-name-safe token.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "patient"
	}
	return out
}
