package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the block and
// retry tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS local_blocks (
		fingerprint TEXT PRIMARY KEY,
		reason TEXT,
		blocked_at DATETIME
	)`)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS retry_items (
		fingerprint TEXT PRIMARY KEY,
		attachment_ref TEXT,
		attempt_count INTEGER DEFAULT 0,
		last_checked_at DATETIME,
		next_check_at DATETIME,
		status TEXT DEFAULT 'pending'
	)`)
	if err != nil {
		return nil, err
	}

	return db, nil
}
