package store

import (
	"database/sql"
	"fmt"

	"github.com/CLIAIMONITOR/internal/types"
)

// GetFile returns NotFound if no file with that hash is recorded.
func (t *Tx) GetFile(hash string) (*types.File, error) {
	var f types.File
	err := t.tx.QueryRow("SELECT hash, filename, size, media_type, created_at FROM files WHERE hash = ?", hash).
		Scan(&f.Hash, &f.Filename, &f.Size, &f.MediaType, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("file", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

// GetFileByFilename resolves a challenge config's payload_file reference
// (spec.md §6.4) to its hash, matching the most recently stored artifact
// with that logical filename.
func (t *Tx) GetFileByFilename(filename string) (*types.File, error) {
	var f types.File
	err := t.tx.QueryRow(
		"SELECT hash, filename, size, media_type, created_at FROM files WHERE filename = ? ORDER BY created_at DESC LIMIT 1",
		filename,
	).Scan(&f.Hash, &f.Filename, &f.Size, &f.MediaType, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("file", filename)
	}
	if err != nil {
		return nil, fmt.Errorf("get file by filename: %w", err)
	}
	return &f, nil
}

// CreateFile records metadata for a newly-stored blob. If the hash already
// has a row (deduplication, spec.md §4.4), this is a no-op rather than an
// error — multiple logical filenames may reference the same hash.
func (t *Tx) CreateFile(f *types.File) error {
	_, err := t.tx.Exec(`
		INSERT INTO files (hash, filename, size, media_type, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`,
		f.Hash, f.Filename, f.Size, f.MediaType, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

// RemoveFile deletes a file's metadata row. Callers must have already
// verified no challenge references the hash (spec.md §4.4 dedup
// invariant); ChallengeReferencesHash does that check.
func (t *Tx) RemoveFile(hash string) error {
	res, err := t.tx.Exec("DELETE FROM files WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("file", hash)
	}
	return nil
}

// ChallengeReferencesHash reports whether any challenge's payload
// references the given artifact hash (spec.md §4.4 "deletion is explicit
// and forbidden while any challenge configuration references the hash").
func (t *Tx) ChallengeReferencesHash(hash string) (bool, error) {
	var n int
	err := t.tx.QueryRow("SELECT COUNT(*) FROM challenges WHERE payload_hash = ?", hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check challenge references: %w", err)
	}
	return n > 0, nil
}

// ListFiles returns every file row.
func (t *Tx) ListFiles() ([]*types.File, error) {
	rows, err := t.tx.Query("SELECT hash, filename, size, media_type, created_at FROM files ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*types.File
	for rows.Next() {
		var f types.File
		if err := rows.Scan(&f.Hash, &f.Filename, &f.Size, &f.MediaType, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
