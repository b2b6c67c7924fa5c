package store

import "database/sql"

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS patients (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			patient           TEXT NOT NULL,
			room              TEXT NOT NULL DEFAULT '',
			age               TEXT NOT NULL DEFAULT '',
			medical_history   TEXT NOT NULL DEFAULT '[]',
			current_diagnosis TEXT NOT NULL DEFAULT '',
			evolution         TEXT NOT NULL DEFAULT '',
			plan              TEXT NOT NULL DEFAULT '',
			observations      TEXT NOT NULL DEFAULT '',
			clinical_summary  TEXT NOT NULL DEFAULT '',
			updated_at        TEXT NOT NULL,
			UNIQUE (patient, room)
		);

		CREATE TABLE IF NOT EXISTS notes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			patient_id INTEGER NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
			author     TEXT NOT NULL DEFAULT '',
			text       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS notes_patient ON notes(patient_id, id);

		CREATE TABLE IF NOT EXISTS histories (
			session_id TEXT PRIMARY KEY,
			blob       TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}
