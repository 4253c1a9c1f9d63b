// Package artifact is ChallengeCtl's content-addressed blob store for
// challenge payloads (spec.md §4.4). Blobs live on disk keyed by their
// SHA-256 hash; metadata lives in internal/store. Writes hash while
// streaming and land via a temp-file-then-rename so a crash mid-write
// never leaves a partial file at its final hash-keyed path, the same
// discipline the teacher's append-only log uses for its own durability.
package artifact

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// Store is a filesystem-backed blob store addressed by SHA-256.
type Store struct {
	dir  string
	meta *store.Store
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string, meta *store.Store) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{dir: dir, meta: meta}, nil
}

func (s *Store) pathFor(hash string) string {
	return filepath.Join(s.dir, hash)
}

// Put streams r to disk, computing its SHA-256 as it goes, and records the
// resulting blob's metadata (spec.md §4.4). If a blob with the computed
// hash already exists, the new write is discarded and the existing
// metadata row is left untouched — artifacts are deduplicated by content.
func (s *Store) Put(ctx context.Context, filename, mediaType string, r io.Reader) (*types.File, error) {
	tmpPath := filepath.Join(s.dir, ".upload-"+randomSuffix())
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close artifact: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	finalPath := s.pathFor(hash)

	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tmpPath)
	} else {
		if err := os.Rename(tmpPath, finalPath); err != nil {
			os.Remove(tmpPath)
			return nil, fmt.Errorf("finalize artifact: %w", err)
		}
	}

	f := &types.File{Hash: hash, Filename: filename, Size: size, MediaType: mediaType}
	err = s.meta.WithWrite(ctx, func(tx *store.Tx) error {
		f.CreatedAt = tx.Now()
		return tx.CreateFile(f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Open returns a read handle for the blob with the given hash. The caller
// must Close it.
func (s *Store) Open(hash string) (*os.File, error) {
	f, err := os.Open(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.NotFound("artifact blob", hash)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Remove deletes both the metadata row and the on-disk blob for hash. It
// refuses if any challenge configuration still references the hash
// (spec.md §4.4 "deletion is explicit and forbidden while any challenge
// configuration references the hash").
func (s *Store) Remove(ctx context.Context, hash string) error {
	err := s.meta.WithWrite(ctx, func(tx *store.Tx) error {
		inUse, err := tx.ChallengeReferencesHash(hash)
		if err != nil {
			return err
		}
		if inUse {
			return store.Conflict("artifact is referenced by a challenge")
		}
		return tx.RemoveFile(hash)
	})
	if err != nil {
		return err
	}
	if err := os.Remove(s.pathFor(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact blob: %w", err)
	}
	return nil
}

// List returns metadata for every stored artifact.
func (s *Store) List(ctx context.Context) ([]*types.File, error) {
	var out []*types.File
	err := s.meta.WithRead(ctx, func(tx *store.Tx) error {
		list, err := tx.ListFiles()
		out = list
		return err
	})
	return out, err
}

// Get returns metadata for a single artifact.
func (s *Store) Get(ctx context.Context, hash string) (*types.File, error) {
	var f *types.File
	err := s.meta.WithRead(ctx, func(tx *store.Tx) error {
		got, err := tx.GetFile(hash)
		f = got
		return err
	})
	return f, err
}

func randomSuffix() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
