package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudsync/synccore/pkg/core"
)

func TestScanDirectoryBasic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi!"), 0o644); err != nil {
		t.Fatalf("unable to write fixture file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("unable to make fixture dir: %v", err)
	}

	pool := NewPool(1, nil)
	defer pool.Stop()

	result := <-pool.Enqueue(&Request{Dir: dir})
	if result.Err != nil {
		t.Fatalf("unexpected scan error: %v", result.Err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}

	file := result.Entries["a.txt"]
	if file == nil || file.Type != core.NodeTypeFile {
		t.Fatalf("expected a.txt to be a file entry, got %+v", file)
	}
	if file.Fingerprint.Size != 3 {
		t.Fatalf("expected size 3, got %d", file.Fingerprint.Size)
	}
	if !file.Fsid.Valid() {
		t.Fatal("expected a valid fsid on this platform")
	}

	sub := result.Entries["sub"]
	if sub == nil || sub.Type != core.NodeTypeFolder {
		t.Fatalf("expected sub to be a folder entry, got %+v", sub)
	}
}

func TestFingerprintReuseRuleAvoidsReread(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hi!"), 0o644); err != nil {
		t.Fatalf("unable to write fixture file: %v", err)
	}

	pool := NewPool(1, nil)
	defer pool.Stop()

	first := <-pool.Enqueue(&Request{Dir: dir})
	if first.Err != nil {
		t.Fatalf("unexpected scan error: %v", first.Err)
	}

	// A second scan with the prior result supplied, and file metadata
	// unchanged, should reuse the fingerprint rather than recompute it; we
	// can't observe the "no re-read" directly, but we can assert the
	// fingerprint is bit-for-bit identical, which would also hold true on
	// re-read for an unmodified file — the key property under test here is
	// that PriorKnownChildren is actually consulted and produces a matching
	// fingerprint.
	second := <-pool.Enqueue(&Request{Dir: dir, PriorKnownChildren: first.Entries})
	if second.Err != nil {
		t.Fatalf("unexpected second scan error: %v", second.Err)
	}
	if !first.Entries["a.txt"].Fingerprint.Equal(second.Entries["a.txt"].Fingerprint) {
		t.Fatal("expected reused fingerprint to match original")
	}
}

func TestBlockedEntryOnUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.txt")
	if err := os.WriteFile(path, []byte("secret"), 0o000); err != nil {
		t.Fatalf("unable to write fixture file: %v", err)
	}
	defer os.Chmod(path, 0o644)

	if os.Geteuid() == 0 {
		t.Skip("running as root; permission bits don't block reads")
	}

	pool := NewPool(1, nil)
	defer pool.Stop()

	result := <-pool.Enqueue(&Request{Dir: dir})
	if result.Err != nil {
		t.Fatalf("unexpected scan error: %v", result.Err)
	}
	entry := result.Entries["locked.txt"]
	if entry == nil {
		t.Fatal("expected an entry for locked.txt")
	}
	if !entry.Blocked {
		t.Fatalf("expected locked.txt to be blocked, got %+v", entry)
	}
}

func TestPoolStopRejectsNewRequests(t *testing.T) {
	pool := NewPool(1, nil)
	pool.Stop()

	result := <-pool.Enqueue(&Request{Dir: t.TempDir()})
	if result.Err != ErrPoolStopped {
		t.Fatalf("expected ErrPoolStopped, got %v", result.Err)
	}
}
