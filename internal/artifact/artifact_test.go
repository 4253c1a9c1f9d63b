package artifact

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/CLIAIMONITOR/internal/store"
)

func newTestArtifactStore(t *testing.T) *Store {
	t.Helper()
	meta, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	s, err := NewStore(t.TempDir(), meta)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestPutAndOpenRoundTrip(t *testing.T) {
	s := newTestArtifactStore(t)
	ctx := context.Background()

	content := []byte("morse payload text")
	f, err := s.Put(ctx, "payload.txt", "text/plain", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if f.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", f.Size, len(content))
	}

	rc, err := s.Open(f.Hash)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("read back %q, want %q", got, content)
	}
}

func TestPutDeduplicatesByHash(t *testing.T) {
	s := newTestArtifactStore(t)
	ctx := context.Background()

	content := []byte("duplicate content")
	f1, err := s.Put(ctx, "a.txt", "text/plain", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put first: %v", err)
	}
	f2, err := s.Put(ctx, "b.txt", "text/plain", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put second: %v", err)
	}
	if f1.Hash != f2.Hash {
		t.Fatalf("expected identical content to hash the same, got %q and %q", f1.Hash, f2.Hash)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected deduplication to leave 1 file row, got %d", len(list))
	}
}

func TestRemoveNonexistentBlobNotFound(t *testing.T) {
	s := newTestArtifactStore(t)
	if err := s.Remove(context.Background(), "deadbeef"); err == nil {
		t.Error("expected removing an unknown hash to fail")
	}
}
