package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/tracer"
	"clinicrew/internal/usecase/roster"
)

var savePatientSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"patient": {"type": "string", "description": "Patient name or identifier."},
		"room": {"type": "string"},
		"age": {"type": "string"},
		"medical_history": {"type": "array", "items": {"type": "string"}},
		"current_diagnosis": {"type": "string"},
		"evolution": {"type": "string", "description": "Favorable, Stable or Unfavorable."},
		"plan": {"type": "string"},
		"observations": {"type": "string"},
		"clinical_summary": {"type": "string"},
		"block": {"type": "string", "description": "The full labelled clinical block; its fields fill any left empty."}
	},
	"required": ["patient"]
}`)

type savePatientParams struct {
	Patient          string   `json:"patient"`
	Room             string   `json:"room"`
	Age              string   `json:"age"`
	MedicalHistory   []string `json:"medical_history"`
	CurrentDiagnosis string   `json:"current_diagnosis"`
	Evolution        string   `json:"evolution"`
	Plan             string   `json:"plan"`
	Observations     string   `json:"observations"`
	ClinicalSummary  string   `json:"clinical_summary"`
	Block            string   `json:"block"`
}

// record merges explicit fields over those parsed from Block.
func (p savePatientParams) record() (domain.PatientRecord, error) {
	var base domain.PatientRecord
	if strings.TrimSpace(p.Block) != "" {
		parsed, err := roster.ParseClinicalBlock(p.Block)
		if err != nil && p.Patient == "" {
			return domain.PatientRecord{}, err
		}
		if err == nil {
			base = parsed
		}
	}
	pick := func(explicit, parsed string) string {
		if explicit != "" {
			return explicit
		}
		return parsed
	}
	rec := domain.PatientRecord{
		Patient:          pick(strings.TrimSpace(p.Patient), base.Patient),
		Room:             pick(strings.TrimSpace(p.Room), base.Room),
		Age:              pick(p.Age, base.Age),
		MedicalHistory:   base.MedicalHistory,
		CurrentDiagnosis: pick(p.CurrentDiagnosis, base.CurrentDiagnosis),
		Evolution:        base.Evolution,
		Plan:             pick(p.Plan, base.Plan),
		Observations:     pick(p.Observations, base.Observations),
		ClinicalSummary:  pick(p.ClinicalSummary, base.ClinicalSummary),
	}
	if len(p.MedicalHistory) > 0 {
		rec.MedicalHistory = p.MedicalHistory
	}
	if p.Evolution != "" {
		ev, ok := roster.NormalizeEvolution(p.Evolution)
		if !ok {
			return domain.PatientRecord{}, domain.NewDomainError("save_patient_record", domain.ErrInvalidInput,
				fmt.Sprintf("evolution %q is not one of %s", p.Evolution, strings.Join(roster.EvolutionValues, ", ")))
		}
		rec.Evolution = ev
	}
	return rec, nil
}

// SavePatientRecordTool upserts a patient record keyed by patient and room.
type SavePatientRecordTool struct {
	store  domain.PatientStore
	logger *slog.Logger
}

func NewSavePatientRecordTool(store domain.PatientStore, logger *slog.Logger) *SavePatientRecordTool {
	return &SavePatientRecordTool{store: store, logger: logger}
}

func (t *SavePatientRecordTool) Name() string { return "save_patient_record" }
func (t *SavePatientRecordTool) Description() string {
	return "Save or update a patient's structured clinical record. Records are keyed by patient and room."
}

func (t *SavePatientRecordTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: savePatientSchema}
}

func (t *SavePatientRecordTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.save_patient_record", t.logger, params,
		func(ctx context.Context, span trace.Span, p savePatientParams) (any, error) {
			rec, err := p.record()
			if err != nil {
				return ErrResult("%v", err), nil
			}
			if bad := requireField("patient", rec.Patient); bad != nil {
				return bad, nil
			}
			saved, err := t.store.UpsertPatient(ctx, rec)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("patient.id", int(saved.ID)))

			msg := fmt.Sprintf("Patient record saved: %s", saved.Patient)
			if saved.Room != "" {
				msg += fmt.Sprintf(" (room %s)", saved.Room)
			}
			if missing := roster.MissingFields(roster.FormatClinicalBlock(saved)); len(missing) > 0 {
				msg += ". Empty fields: " + strings.Join(missing, ", ")
			}
			return msg, nil
		})
}

var addNoteSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"patient": {"type": "string"},
		"room": {"type": "string"},
		"text": {"type": "string", "description": "Note text, typically the observations and plan."},
		"author": {"type": "string"}
	},
	"required": ["patient", "text"]
}`)

type addNoteParams struct {
	Patient string `json:"patient"`
	Room    string `json:"room"`
	Text    string `json:"text"`
	Author  string `json:"author"`
}

// AddClinicalNoteTool appends a free-text note to an existing record.
type AddClinicalNoteTool struct {
	store  domain.PatientStore
	logger *slog.Logger
}

func NewAddClinicalNoteTool(store domain.PatientStore, logger *slog.Logger) *AddClinicalNoteTool {
	return &AddClinicalNoteTool{store: store, logger: logger}
}

func (t *AddClinicalNoteTool) Name() string { return "add_clinical_note" }
func (t *AddClinicalNoteTool) Description() string {
	return "Append a clinical note to a saved patient record."
}

func (t *AddClinicalNoteTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: addNoteSchema}
}

func (t *AddClinicalNoteTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.add_clinical_note", t.logger, params,
		func(ctx context.Context, _ trace.Span, p addNoteParams) (any, error) {
			if bad := requireField("patient", p.Patient); bad != nil {
				return bad, nil
			}
			if bad := requireField("text", strings.TrimSpace(p.Text)); bad != nil {
				return bad, nil
			}
			rec, err := t.store.FindPatient(ctx, p.Patient, p.Room)
			if errors.Is(err, domain.ErrPatientNotFound) {
				return ErrResult("no record for patient %q; call save_patient_record first", p.Patient), nil
			}
			if err != nil {
				return nil, err
			}
			note, err := t.store.AddNote(ctx, domain.ClinicalNote{
				PatientID: rec.ID,
				Author:    p.Author,
				Text:      strings.TrimSpace(p.Text),
			})
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Clinical note %d added for %s", note.ID, rec.Patient), nil
		})
}

var reportSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"patient": {"type": "string"},
		"room": {"type": "string"}
	},
	"required": ["patient"]
}`)

type reportParams struct {
	Patient string `json:"patient"`
	Room    string `json:"room"`
}

// GenerateReportTool renders a saved record and its notes to report files.
type GenerateReportTool struct {
	store    domain.PatientStore
	renderer domain.ReportRenderer
	logger   *slog.Logger
}

func NewGenerateReportTool(store domain.PatientStore, renderer domain.ReportRenderer, logger *slog.Logger) *GenerateReportTool {
	return &GenerateReportTool{store: store, renderer: renderer, logger: logger}
}

func (t *GenerateReportTool) Name() string { return "generate_clinical_report" }
func (t *GenerateReportTool) Description() string {
	return "Generate the clinical report for a saved patient record and return where it was written."
}

func (t *GenerateReportTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: reportSchema}
}

func (t *GenerateReportTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.generate_clinical_report", t.logger, params,
		func(ctx context.Context, span trace.Span, p reportParams) (any, error) {
			if bad := requireField("patient", p.Patient); bad != nil {
				return bad, nil
			}
			rec, err := t.store.FindPatient(ctx, p.Patient, p.Room)
			if errors.Is(err, domain.ErrPatientNotFound) {
				return ErrResult("no record for patient %q; call save_patient_record first", p.Patient), nil
			}
			if err != nil {
				return nil, err
			}
			notes, err := t.store.Notes(ctx, rec.ID)
			if err != nil {
				return nil, err
			}
			paths, err := t.renderer.Render(ctx, rec, notes)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("report.files", len(paths)))
			return "Report saved: " + strings.Join(paths, ", "), nil
		})
}
