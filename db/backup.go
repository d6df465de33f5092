package db

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backup snapshots the database to the given path using VACUUM INTO,
// which produces a consistent copy without blocking readers.
func (d *DB) Backup(path string) error {
	if path == "" {
		return fmt.Errorf("backup path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	// VACUUM INTO refuses to overwrite an existing file
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to replace existing backup: %w", err)
		}
	}
	if _, err := d.conn.Exec("VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}
