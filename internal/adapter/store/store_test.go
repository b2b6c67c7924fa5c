package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicrew/internal/domain"
	"clinicrew/internal/security"
)

func openTest(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "clinicrew.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndFindPatient(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	first, err := s.UpsertPatient(ctx, domain.PatientRecord{
		Patient: "Ana Ruiz", Room: "12", Age: "67",
		MedicalHistory: []string{"HTA", "DM2"}, Evolution: "Stable",
	})
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second, err := s.UpsertPatient(ctx, domain.PatientRecord{
		Patient: "Ana Ruiz", Room: "12", Evolution: "Favorable", Plan: "Discharge tomorrow",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same patient and room must update in place")

	got, err := s.FindPatient(ctx, "Ana Ruiz", "12")
	require.NoError(t, err)
	assert.Equal(t, "Favorable", got.Evolution)
	assert.Equal(t, "Discharge tomorrow", got.Plan)
	assert.Empty(t, got.Age)
	assert.Nil(t, got.MedicalHistory)
	assert.False(t, got.UpdatedAt.IsZero())

	other, err := s.UpsertPatient(ctx, domain.PatientRecord{Patient: "Ana Ruiz", Room: "14"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	latest, err := s.FindPatient(ctx, "Ana Ruiz", "")
	require.NoError(t, err)
	assert.Equal(t, other.ID, latest.ID)
}

func TestFindPatientNotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.FindPatient(context.Background(), "Nobody", "")
	assert.ErrorIs(t, err, domain.ErrPatientNotFound)

	_, err = s.UpsertPatient(context.Background(), domain.PatientRecord{Room: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMedicalHistoryRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	_, err := s.UpsertPatient(ctx, domain.PatientRecord{Patient: "Luis", MedicalHistory: []string{"EPOC", "FA"}})
	require.NoError(t, err)
	got, err := s.FindPatient(ctx, "Luis", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"EPOC", "FA"}, got.MedicalHistory)
}

func TestNotesEncryptedAtRest(t *testing.T) {
	enc, err := security.NewAESContentEncryptor("ward-secret")
	require.NoError(t, err)
	s := openTest(t, WithEncryptor(enc))
	ctx := context.Background()

	rec, err := s.UpsertPatient(ctx, domain.PatientRecord{Patient: "Ana", Room: "12"})
	require.NoError(t, err)
	for _, text := range []string{"Afebrile.", "Tolerating oral diet."} {
		_, err := s.AddNote(ctx, domain.ClinicalNote{PatientID: rec.ID, Author: "MedicalSecretary", Text: text})
		require.NoError(t, err)
	}

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT text FROM notes ORDER BY id LIMIT 1`).Scan(&raw))
	assert.True(t, enc.IsEncrypted(raw))
	assert.NotContains(t, raw, "Afebrile")

	notes, err := s.Notes(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "Afebrile.", notes[0].Text)
	assert.Equal(t, "MedicalSecretary", notes[0].Author)
	assert.Equal(t, "Tolerating oral diet.", notes[1].Text)
}

func TestAddNoteUnknownPatient(t *testing.T) {
	s := openTest(t)
	_, err := s.AddNote(context.Background(), domain.ClinicalNote{PatientID: 999, Text: "x"})
	assert.ErrorIs(t, err, domain.ErrRecordStore)
}

func TestHistoryLifecycle(t *testing.T) {
	enc, err := security.NewAESContentEncryptor("pass")
	require.NoError(t, err)
	s := openTest(t, WithEncryptor(enc))
	ctx := context.Background()

	_, err = s.LoadHistory(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	blob := []byte(`{"version":1,"messages":[]}`)
	require.NoError(t, s.SaveHistory(ctx, "s1", blob))
	require.NoError(t, s.SaveHistory(ctx, "s1", append(blob, ' ')))

	got, err := s.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, string(blob)+" ", string(got))

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT blob FROM histories`).Scan(&raw))
	assert.False(t, strings.Contains(raw, "version"))

	ids, err := s.HistorySessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	require.NoError(t, s.DeleteHistory(ctx, "s1"))
	assert.ErrorIs(t, s.DeleteHistory(ctx, "s1"), domain.ErrSessionNotFound)
}

func TestPlaintextRowsReadableAfterEnablingEncryption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	ctx := context.Background()

	plain, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, plain.SaveHistory(ctx, "old", []byte("legacy")))
	require.NoError(t, plain.Close())

	enc, _ := security.NewAESContentEncryptor("late")
	s, err := Open(path, WithEncryptor(enc))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadHistory(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "legacy", string(got))
}
