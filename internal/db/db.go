package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultSubject is seeded so cards always have a subject to join against.
const DefaultSubject = "General"

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=1", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original_name TEXT NOT NULL,
			stored_path TEXT NOT NULL UNIQUE,
			doc_type TEXT NOT NULL CHECK(doc_type IN ('question_paper','mark_scheme','notes')),
			page_count INTEGER NOT NULL DEFAULT 0,
			uploaded_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS subjects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_id INTEGER,
			source_document_id INTEGER,
			front TEXT NOT NULL,
			back TEXT NOT NULL,
			hint TEXT NOT NULL DEFAULT '',
			card_type TEXT NOT NULL DEFAULT 'definition',
			difficulty_level TEXT NOT NULL DEFAULT 'medium',
			confidence REAL NOT NULL DEFAULT 0,
			source_ref TEXT NOT NULL DEFAULT '',
			due DATETIME,
			stability REAL NOT NULL DEFAULT 0,
			difficulty REAL NOT NULL DEFAULT 0,
			elapsed_days INTEGER NOT NULL DEFAULT 0,
			scheduled_days INTEGER NOT NULL DEFAULT 0,
			reps INTEGER NOT NULL DEFAULT 0,
			lapses INTEGER NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0,
			last_review DATETIME,
			working_queue_position INTEGER DEFAULT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(subject_id) REFERENCES subjects(id) ON DELETE SET NULL,
			FOREIGN KEY(source_document_id) REFERENCES documents(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS review_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id INTEGER NOT NULL,
			rating INTEGER NOT NULL,
			scheduled_days INTEGER NOT NULL,
			elapsed_days INTEGER NOT NULL,
			state INTEGER NOT NULL,
			reviewed_at DATETIME NOT NULL,
			FOREIGN KEY(card_id) REFERENCES cards(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(due);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_subject ON cards(subject_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_working_queue ON cards(working_queue_position) WHERE working_queue_position IS NOT NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}

	const insertDefault = `
	INSERT INTO subjects (name, description, created_at, updated_at)
	SELECT ?, ?, ?, ?
	WHERE NOT EXISTS (SELECT 1 FROM subjects WHERE name = ?);`
	now := time.Now().UTC()
	if _, err := db.Exec(insertDefault, DefaultSubject, "General knowledge", now, now, DefaultSubject); err != nil {
		return fmt.Errorf("seed default subject: %w", err)
	}

	return nil
}
