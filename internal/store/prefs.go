package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// PrefsStore persists per-(operator, contact) preferences that must
// outlive the in-memory session, currently just the "don't ask again"
// flag for the assignment prompt. Set on dismiss, cleared never.
type PrefsStore struct {
	db *sql.DB
}

// OpenPrefs opens (or creates) the preferences database at path.
func OpenPrefs(path string) (*PrefsStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating prefs directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening prefs database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS assignment_prompt_optout (
			operator_id TEXT NOT NULL,
			contact_id  TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			PRIMARY KEY (operator_id, contact_id)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating prefs schema: %w", err)
	}

	return &PrefsStore{db: db}, nil
}

// SetPromptOptOut records that an operator dismissed the assignment
// prompt for a contact. Setting it twice is a no-op.
func (p *PrefsStore) SetPromptOptOut(operatorID, contactID string) error {
	_, err := p.db.Exec(
		`INSERT OR IGNORE INTO assignment_prompt_optout
		 (operator_id, contact_id, created_at) VALUES (?, ?, ?)`,
		operatorID, contactID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording prompt opt-out: %w", err)
	}
	return nil
}

// PromptOptedOut reports whether the operator opted out of the assignment
// prompt for this contact.
func (p *PrefsStore) PromptOptedOut(operatorID, contactID string) (bool, error) {
	var n int
	err := p.db.QueryRow(
		`SELECT COUNT(1) FROM assignment_prompt_optout
		 WHERE operator_id = ? AND contact_id = ?`,
		operatorID, contactID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("reading prompt opt-out: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying database.
func (p *PrefsStore) Close() error {
	return p.db.Close()
}
