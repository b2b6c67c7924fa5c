package roster

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"clinicrew/internal/domain"
)

// Labels of the clinical output block, in emission order.
const (
	FieldPatient          = "Patient"
	FieldRoom             = "Room"
	FieldAge              = "Age"
	FieldMedicalHistory   = "Medical History (AP)"
	FieldCurrentDiagnosis = "Current Diagnosis (Dx)"
	FieldEvolution        = "Evolution"
	FieldPlan             = "Plan"
	FieldObservations     = "Observations"
	FieldClinicalSummary  = "Clinical Summary"
)

// ProtocolFields lists the block labels in order.
var ProtocolFields = []string{
	FieldPatient,
	FieldRoom,
	FieldAge,
	FieldMedicalHistory,
	FieldCurrentDiagnosis,
	FieldEvolution,
	FieldPlan,
	FieldObservations,
	FieldClinicalSummary,
}

// EvolutionValues are the only accepted values of the Evolution field.
var EvolutionValues = []string{"Favorable", "Stable", "Unfavorable"}

// AdmissionPhrases mark a condition as the reason for the current admission
// rather than prior history.
var AdmissionPhrases = []string{
	"admitted for",
	"admitted with",
	"reason for admission",
	"presents with",
	"ingresa por",
	"ingresado por",
	"motivo de ingreso",
	"acude por",
}

// admissionPatterns match AdmissionPhrases case-insensitively against the
// original text, so match offsets stay valid for any input.
var admissionPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(AdmissionPhrases))
	for i, phrase := range AdmissionPhrases {
		out[i] = regexp.MustCompile("(?i)" + regexp.QuoteMeta(phrase))
	}
	return out
}()

// labelAliases maps lowercase label spellings to the canonical label.
var labelAliases = map[string]string{
	"patient":                FieldPatient,
	"room":                   FieldRoom,
	"age":                    FieldAge,
	"medical history (ap)":   FieldMedicalHistory,
	"medical history":        FieldMedicalHistory,
	"ap":                     FieldMedicalHistory,
	"current diagnosis (dx)": FieldCurrentDiagnosis,
	"current diagnosis":      FieldCurrentDiagnosis,
	"dx":                     FieldCurrentDiagnosis,
	"evolution":              FieldEvolution,
	"plan":                   FieldPlan,
	"observations":           FieldObservations,
	"clinical summary":       FieldClinicalSummary,
}

// ClassifyCondition reports whether sentence names the reason for the
// current admission.
func ClassifyCondition(sentence string) (admission bool) {
	_, ok := admissionCondition(sentence)
	return ok
}

// admissionCondition returns the condition following the first admission
// phrase in sentence.
func admissionCondition(sentence string) (string, bool) {
	for _, re := range admissionPatterns {
		loc := re.FindStringIndex(sentence)
		if loc == nil {
			continue
		}
		return strings.Trim(sentence[loc[1]:], " \t:.;"), true
	}
	return "", false
}

// NormalizeEvolution returns the canonical spelling of v, or false when v is
// not one of EvolutionValues.
func NormalizeEvolution(v string) (string, bool) {
	v = strings.Trim(strings.TrimSpace(v), ".")
	for _, want := range EvolutionValues {
		if strings.EqualFold(v, want) {
			return want, true
		}
	}
	return "", false
}

// ParseClinicalBlock extracts a patient record from text containing a
// labelled block. Markdown bold markers and bullet prefixes are ignored, and
// unlabelled lines continue the preceding field. History items carrying an
// admission phrase are moved to the current diagnosis.
func ParseClinicalBlock(text string) (domain.PatientRecord, error) {
	fields := make(map[string]string, len(ProtocolFields))
	current := ""
	for line := range strings.Lines(text) {
		line = cleanLine(line)
		if line == "" {
			continue
		}
		if label, value, ok := splitLabel(line); ok {
			current = label
			fields[label] = value
			continue
		}
		if current != "" {
			fields[current] = strings.TrimSpace(fields[current] + " " + line)
		}
	}

	rec := domain.PatientRecord{
		Patient:          fields[FieldPatient],
		Room:             fields[FieldRoom],
		Age:              fields[FieldAge],
		CurrentDiagnosis: fields[FieldCurrentDiagnosis],
		Plan:             fields[FieldPlan],
		Observations:     fields[FieldObservations],
		ClinicalSummary:  fields[FieldClinicalSummary],
	}
	if rec.Patient == "" {
		return domain.PatientRecord{}, domain.NewDomainError("roster.ParseClinicalBlock", domain.ErrInvalidInput, "missing Patient field")
	}
	if ev := fields[FieldEvolution]; ev != "" {
		norm, ok := NormalizeEvolution(ev)
		if !ok {
			return domain.PatientRecord{}, domain.NewDomainError("roster.ParseClinicalBlock", domain.ErrInvalidInput,
				fmt.Sprintf("evolution %q is not one of %s", ev, strings.Join(EvolutionValues, ", ")))
		}
		rec.Evolution = norm
	}

	for item := range strings.SplitSeq(fields[FieldMedicalHistory], ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if cond, ok := admissionCondition(item); ok {
			rec.CurrentDiagnosis = mergeDiagnosis(rec.CurrentDiagnosis, cond)
			continue
		}
		rec.MedicalHistory = append(rec.MedicalHistory, item)
	}
	return rec, nil
}

// FormatClinicalBlock renders rec as a labelled block. Empty fields are
// omitted except Patient.
func FormatClinicalBlock(rec domain.PatientRecord) string {
	values := map[string]string{
		FieldPatient:          rec.Patient,
		FieldRoom:             rec.Room,
		FieldAge:              rec.Age,
		FieldMedicalHistory:   strings.Join(rec.MedicalHistory, ", "),
		FieldCurrentDiagnosis: rec.CurrentDiagnosis,
		FieldEvolution:        rec.Evolution,
		FieldPlan:             rec.Plan,
		FieldObservations:     rec.Observations,
		FieldClinicalSummary:  rec.ClinicalSummary,
	}
	var sb strings.Builder
	for _, label := range ProtocolFields {
		v := values[label]
		if v == "" && label != FieldPatient {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, v)
	}
	return sb.String()
}

func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*•> \t")
	return strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
}

func splitLabel(line string) (label, value string, ok bool) {
	head, tail, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	label, ok = labelAliases[strings.ToLower(strings.TrimSpace(head))]
	if !ok {
		return "", "", false
	}
	return label, strings.TrimSpace(tail), true
}

func mergeDiagnosis(dx, cond string) string {
	if cond == "" || strings.Contains(strings.ToLower(dx), strings.ToLower(cond)) {
		return dx
	}
	if dx == "" {
		return cond
	}
	return dx + "; " + cond
}

// MissingFields returns the labels absent from text, for prompting repairs.
func MissingFields(text string) []string {
	seen := make(map[string]bool)
	for line := range strings.Lines(text) {
		if label, _, ok := splitLabel(cleanLine(line)); ok {
			seen[label] = true
		}
	}
	return slices.DeleteFunc(slices.Clone(ProtocolFields), func(l string) bool { return seen[l] })
}
