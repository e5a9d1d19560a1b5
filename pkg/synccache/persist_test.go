package synccache

import (
	"path/filepath"
	"testing"

	"github.com/cloudsync/synccore/pkg/core"
)

func TestQueueUpsertFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "synccache.log")
	secret := []byte("test-master-secret-0123456789ab")

	p, err := Open(logPath, secret, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	n := core.NewSyncNode("file.txt", core.NodeTypeFile, nil)
	n.LastSyncedFsid = core.NewFsid(123)
	if err := p.QueueUpsert(n, 0); err != nil {
		t.Fatalf("QueueUpsert failed: %v", err)
	}
	if n.DatabaseID == 0 {
		t.Fatal("expected a database ID to be assigned")
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reloaded, err := Open(logPath, secret, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	records, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rec, ok := records[n.DatabaseID]
	if !ok {
		t.Fatal("expected record to survive reload")
	}
	if rec.LocalName != "file.txt" || rec.SyncedFsid != 123 {
		t.Fatalf("unexpected record contents: %+v", rec)
	}
}

func TestTombstoneSupersedesEarlierUpsert(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "synccache.log")
	secret := []byte("test-master-secret-0123456789ab")

	p, err := Open(logPath, secret, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	n := core.NewSyncNode("gone.txt", core.NodeTypeFile, nil)
	if err := p.QueueUpsert(n, 0); err != nil {
		t.Fatalf("QueueUpsert failed: %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := p.QueueDelete(n.DatabaseID); err != nil {
		t.Fatalf("QueueDelete failed: %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}

	reloaded, err := Open(logPath, secret, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	records, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := records[n.DatabaseID]; ok {
		t.Fatal("expected tombstoned record to be absent after reload")
	}
}

func TestQueueDeleteDropsPendingUpsertForSameID(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "synccache.log")
	secret := []byte("test-master-secret-0123456789ab")

	p, err := Open(logPath, secret, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	n := core.NewSyncNode("ephemeral.txt", core.NodeTypeFile, nil)
	if err := p.QueueUpsert(n, 0); err != nil {
		t.Fatalf("QueueUpsert failed: %v", err)
	}
	if err := p.QueueDelete(n.DatabaseID); err != nil {
		t.Fatalf("QueueDelete failed: %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reloaded, err := Open(logPath, secret, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	records, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := records[n.DatabaseID]; ok {
		t.Fatal("expected the insert to never have been durably written")
	}
}

func TestAutomaticFlushAtThreshold(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "synccache.log")
	secret := []byte("test-master-secret-0123456789ab")

	p, err := Open(logPath, secret, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	p.SetFlushThreshold(3)

	for i := 0; i < 3; i++ {
		n := core.NewSyncNode("f", core.NodeTypeFile, nil)
		if err := p.QueueUpsert(n, 0); err != nil {
			t.Fatalf("QueueUpsert failed: %v", err)
		}
	}

	if len(p.insertQueue) != 0 {
		t.Fatalf("expected automatic flush to clear the queue, got %d pending", len(p.insertQueue))
	}

	reloaded, err := Open(logPath, secret, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	records, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 durably flushed records, got %d", len(records))
	}
}
