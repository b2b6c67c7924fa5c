package domain

import (
	"context"
	"time"
)

// PatientRecord is the structured form of the clinical output block.
type PatientRecord struct {
	ID               int64     `json:"id,omitempty"`
	Patient          string    `json:"patient"`
	Room             string    `json:"room,omitempty"`
	Age              string    `json:"age,omitempty"`
	MedicalHistory   []string  `json:"medical_history,omitempty"`
	CurrentDiagnosis string    `json:"current_diagnosis,omitempty"`
	Evolution        string    `json:"evolution,omitempty"`
	Plan             string    `json:"plan,omitempty"`
	Observations     string    `json:"observations,omitempty"`
	ClinicalSummary  string    `json:"clinical_summary,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ClinicalNote is a free-text note attached to a patient record.
type ClinicalNote struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PatientStore persists patient records and their notes.
type PatientStore interface {
	// UpsertPatient inserts or updates the record identified by (Patient, Room).
	UpsertPatient(ctx context.Context, rec PatientRecord) (PatientRecord, error)
	FindPatient(ctx context.Context, patient, room string) (PatientRecord, error)
	AddNote(ctx context.Context, note ClinicalNote) (ClinicalNote, error)
	Notes(ctx context.Context, patientID int64) ([]ClinicalNote, error)
}

// ReportRenderer writes a clinical report for a patient and returns its paths.
type ReportRenderer interface {
	Render(ctx context.Context, rec PatientRecord, notes []ClinicalNote) ([]string, error)
}
