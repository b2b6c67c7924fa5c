package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"clinicrew/internal/domain"
)

const patientColumns = `id, patient, room, age, medical_history, current_diagnosis, evolution,
	plan, observations, clinical_summary, updated_at`

// UpsertPatient inserts rec or replaces the record with the same patient and
// room. The returned record carries the row id.
func (s *SQLiteStore) UpsertPatient(ctx context.Context, rec domain.PatientRecord) (domain.PatientRecord, error) {
	if rec.Patient == "" {
		return domain.PatientRecord{}, domain.NewDomainError("store.UpsertPatient", domain.ErrInvalidInput, "patient is required")
	}
	history, err := json.Marshal(rec.MedicalHistory)
	if err != nil {
		return domain.PatientRecord{}, fmt.Errorf("marshal medical history: %w", err)
	}
	if rec.MedicalHistory == nil {
		history = []byte("[]")
	}
	rec.UpdatedAt = s.now()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO patients (patient, room, age, medical_history, current_diagnosis, evolution,
			plan, observations, clinical_summary, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (patient, room) DO UPDATE SET
			age = excluded.age,
			medical_history = excluded.medical_history,
			current_diagnosis = excluded.current_diagnosis,
			evolution = excluded.evolution,
			plan = excluded.plan,
			observations = excluded.observations,
			clinical_summary = excluded.clinical_summary,
			updated_at = excluded.updated_at
		RETURNING id`,
		rec.Patient, rec.Room, rec.Age, string(history), rec.CurrentDiagnosis, rec.Evolution,
		rec.Plan, rec.Observations, rec.ClinicalSummary, formatTime(rec.UpdatedAt),
	)
	if err := row.Scan(&rec.ID); err != nil {
		return domain.PatientRecord{}, fmt.Errorf("%w: upsert patient: %v", domain.ErrRecordStore, err)
	}
	return rec, nil
}

// FindPatient looks up a record by patient and room. An empty room matches
// the most recently updated record for the patient.
func (s *SQLiteStore) FindPatient(ctx context.Context, patient, room string) (domain.PatientRecord, error) {
	var row *sql.Row
	if room == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+patientColumns+` FROM patients WHERE patient = ? ORDER BY updated_at DESC, id DESC LIMIT 1`, patient)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+patientColumns+` FROM patients WHERE patient = ? AND room = ?`, patient, room)
	}

	var (
		rec              domain.PatientRecord
		history, updated string
	)
	err := row.Scan(&rec.ID, &rec.Patient, &rec.Room, &rec.Age, &history, &rec.CurrentDiagnosis,
		&rec.Evolution, &rec.Plan, &rec.Observations, &rec.ClinicalSummary, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PatientRecord{}, domain.NewDomainError("store.FindPatient", domain.ErrPatientNotFound, patient)
	}
	if err != nil {
		return domain.PatientRecord{}, fmt.Errorf("%w: find patient: %v", domain.ErrRecordStore, err)
	}
	if err := json.Unmarshal([]byte(history), &rec.MedicalHistory); err != nil {
		return domain.PatientRecord{}, fmt.Errorf("%w: decode medical history: %v", domain.ErrRecordStore, err)
	}
	if len(rec.MedicalHistory) == 0 {
		rec.MedicalHistory = nil
	}
	rec.UpdatedAt = parseTime(updated)
	return rec, nil
}

// AddNote appends a note to an existing patient.
func (s *SQLiteStore) AddNote(ctx context.Context, note domain.ClinicalNote) (domain.ClinicalNote, error) {
	text, err := s.seal(note.Text)
	if err != nil {
		return domain.ClinicalNote{}, err
	}
	note.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (patient_id, author, text, created_at) VALUES (?, ?, ?, ?)`,
		note.PatientID, note.Author, text, formatTime(note.CreatedAt))
	if err != nil {
		return domain.ClinicalNote{}, fmt.Errorf("%w: add note for patient %d: %v", domain.ErrRecordStore, note.PatientID, err)
	}
	note.ID, _ = res.LastInsertId()
	return note, nil
}

// Notes returns a patient's notes oldest first, decrypted.
func (s *SQLiteStore) Notes(ctx context.Context, patientID int64) ([]domain.ClinicalNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, author, text, created_at FROM notes WHERE patient_id = ? ORDER BY id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: list notes: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()

	var notes []domain.ClinicalNote
	for rows.Next() {
		var (
			n       domain.ClinicalNote
			created string
		)
		if err := rows.Scan(&n.ID, &n.PatientID, &n.Author, &n.Text, &created); err != nil {
			return nil, fmt.Errorf("%w: scan note: %v", domain.ErrRecordStore, err)
		}
		if n.Text, err = s.open(n.Text); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTime(created)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
