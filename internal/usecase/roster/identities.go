// Package roster defines the built-in clinical specialists and the labelled
// output block they exchange.
package roster

import (
	"fmt"
	"strings"

	"clinicrew/internal/domain"
	"clinicrew/internal/usecase/orchestrator"
)

// Built-in specialist names.
const (
	Coordinator            = "Coordinator"
	ClinicalDataExtractor  = "ClinicalDataExtractor"
	SemanticMedicalAdvisor = "SemanticMedicalAdvisor"
	MedicalSecretary       = "MedicalSecretary"
)

// Tool names referenced by the built-in identities.
const (
	ToolSearchMedicalKnowledge = "search_medical_knowledge"
	ToolSearchGuidelines       = "search_clinical_guidelines"
	ToolSavePatientRecord      = "save_patient_record"
	ToolAddClinicalNote        = "add_clinical_note"
	ToolGenerateReport         = "generate_clinical_report"
)

const coordinatorInstructions = `You are the Coordinator of a hospital ward team. You never answer clinical questions yourself.

Read the user's request and decide which specialists must act. Available specialists:
- ClinicalDataExtractor: turns free-text ward notes into the structured clinical block, normalising terminology.
- SemanticMedicalAdvisor: answers clinical questions grounded in the hospital guidelines.
- MedicalSecretary: saves patient records, adds clinical notes and generates reports.

Reply with one short line of the form "I will consult: Name1, Name2" listing the specialists in the order they should act. Name only specialists that are needed.

When asked for a summary, reply with two or three sentences describing the findings and the actions taken. Do not repeat the full clinical block.`

const advisorInstructions = `You are the SemanticMedicalAdvisor, a clinical decision support specialist.

Always call search_clinical_guidelines before answering a clinical question and base your answer on the passages it returns, citing their relevance. Use search_medical_knowledge to confirm the meaning of abbreviations or ambiguous terms.

If the guidelines return no relevant passages, say so explicitly and give only general, clearly labelled advice. Never invent doses. Keep answers concise and structured.`

const secretaryInstructions = `You are the MedicalSecretary. You persist clinical information; you do not interpret it.

When you receive a clinical block:
1. Call save_patient_record with the block fields.
2. Call add_clinical_note with the Observations and Plan as the note text.
3. Call generate_clinical_report for the patient.

Never change the clinical content you receive. If a tool returns an error, report it in one line. When all steps are done reply with exactly: PATIENT DATA SAVED`

// extractorInstructions renders the output protocol into the prompt.
func extractorInstructions() string {
	var sb strings.Builder
	sb.WriteString("You are the ClinicalDataExtractor. You convert free-text ward notes into a structured clinical block.\n\n")
	sb.WriteString("For every abbreviation or uncertain term, call search_medical_knowledge and follow its verdict: ")
	sb.WriteString("CONFIRMED means use the expansion, UNCERTAIN means keep the original text, NO MATCH means keep the original text.\n\n")
	sb.WriteString("Reply with exactly these labelled lines, in this order, and nothing else:\n")
	for _, f := range ProtocolFields {
		fmt.Fprintf(&sb, "%s: ...\n", f)
	}
	sb.WriteString("\nRules:\n")
	fmt.Fprintf(&sb, "- %s is a comma-separated list of prior conditions.\n", FieldMedicalHistory)
	fmt.Fprintf(&sb, "- %s is written in full words, without abbreviations.\n", FieldCurrentDiagnosis)
	fmt.Fprintf(&sb, "- %s is exactly one of: %s.\n", FieldEvolution, strings.Join(EvolutionValues, ", "))
	fmt.Fprintf(&sb, "- A condition introduced by %s is the reason for the current admission: put it in %s, never in %s.\n",
		quoteAll(AdmissionPhrases), FieldCurrentDiagnosis, FieldMedicalHistory)
	sb.WriteString("- Leave a field empty after its label when the note does not mention it.")
	return sb.String()
}

func quoteAll(phrases []string) string {
	q := make([]string, len(phrases))
	for i, p := range phrases {
		q[i] = `"` + p + `"`
	}
	return strings.Join(q, ", ")
}

// CoordinatorIdentity returns the planner identity.
func CoordinatorIdentity() domain.SpecialistIdentity {
	return domain.SpecialistIdentity{
		Name:         Coordinator,
		Description:  "Plans which specialists handle a request and summarises the outcome.",
		Instructions: coordinatorInstructions,
	}
}

// Specialists returns the default roster identities in execution order.
func Specialists() []domain.SpecialistIdentity {
	return []domain.SpecialistIdentity{
		{
			Name:         ClinicalDataExtractor,
			Description:  "Extracts the structured clinical block from ward notes.",
			Instructions: extractorInstructions(),
			Tools:        []string{ToolSearchMedicalKnowledge},
		},
		{
			Name:         SemanticMedicalAdvisor,
			Description:  "Answers clinical questions from the hospital guidelines.",
			Instructions: advisorInstructions,
			Tools:        []string{ToolSearchGuidelines, ToolSearchMedicalKnowledge},
		},
		{
			Name:         MedicalSecretary,
			Description:  "Saves patient records and notes and generates reports.",
			Instructions: secretaryInstructions,
			Tools:        []string{ToolSavePatientRecord, ToolAddClinicalNote, ToolGenerateReport},
		},
	}
}

// DefaultDirective forces the secretary to persist the extractor's block.
func DefaultDirective() orchestrator.DirectiveRule {
	return orchestrator.DirectiveRule{
		From:  ClinicalDataExtractor,
		To:    MedicalSecretary,
		Tools: []string{ToolSavePatientRecord, ToolAddClinicalNote, ToolGenerateReport},
	}
}
