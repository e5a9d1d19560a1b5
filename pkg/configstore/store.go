package configstore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cloudsync/synccore/pkg/logging"
	"github.com/cloudsync/synccore/pkg/must"
	"github.com/cloudsync/synccore/pkg/synccore"
)

// slotCount is the number of alternating slot files used for atomic,
// crash-safe writes (spec §4.3: "files are named `<tag>.0` and `<tag>.1`").
const slotCount = 2

// atomicWriteTemporaryPrefix names the intermediate file used for the
// rename-based atomic write, following the same pattern as the teacher's
// filesystem.WriteFileAtomic helper.
const atomicWriteTemporaryPrefix = ".synccore-configstore-write-"

// Store is the encrypted, two-slot configuration store for one sync's
// drive-root `.megabackup` directory (spec §6).
type Store struct {
	dir    string
	prefix string
	keys   *derivedKeys
	logger *logging.Logger

	// lastReadSlot is the slot index the most recent successful Read came
	// from, or -1 if no successful read has happened yet in this process.
	// Write always targets the *other* slot, guaranteeing at least one
	// intact copy survives a crash mid-write (spec §4.3).
	lastReadSlot int
}

// Open constructs a Store rooted at dir (the sync's `.megabackup`
// directory), deriving its keys and filename tag from masterSecret (the
// per-user TLV record described in spec §4.3).
func Open(dir string, masterSecret []byte, logger *logging.Logger) (*Store, error) {
	keys, err := deriveKeys(masterSecret)
	if err != nil {
		return nil, fmt.Errorf("unable to derive configuration store keys: %w", err)
	}
	return &Store{
		dir:          dir,
		prefix:       hex.EncodeToString(keys.fileTag),
		keys:         keys,
		logger:       logger,
		lastReadSlot: -1,
	}, nil
}

// slotPath returns the on-disk path for the given slot.
func (s *Store) slotPath(slot int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%d", s.prefix, slot))
}

// candidate is one slot file considered during Read.
type candidate struct {
	slot    int
	modTime int64
}

// Read loads the entries currently persisted, trying the most recently
// written intact slot first (spec §4.3: "Read lists both, sorts by
// modification time (newest first) then slot index, validates MAC+decrypts;
// first successful read wins.").
func (s *Store) Read() ([]Entry, error) {
	var candidates []candidate
	for slot := 0; slot < slotCount; slot++ {
		info, err := os.Stat(s.slotPath(slot))
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{slot: slot, modTime: info.ModTime().UnixNano()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].modTime != candidates[j].modTime {
			return candidates[i].modTime > candidates[j].modTime
		}
		return candidates[i].slot > candidates[j].slot
	})

	var lastErr error
	for _, c := range candidates {
		blob, err := os.ReadFile(s.slotPath(c.slot))
		if err != nil {
			lastErr = err
			continue
		}
		plaintext, err := open(s.keys, blob)
		if err != nil {
			lastErr = err
			continue
		}
		var doc document
		if err := json.Unmarshal(plaintext, &doc); err != nil {
			lastErr = err
			continue
		}
		s.lastReadSlot = c.slot
		return doc.Entries, nil
	}

	if len(candidates) == 0 {
		// No slot file exists yet: this is a fresh store, not an error.
		return nil, nil
	}

	return nil, synccore.NewEngineError(synccore.ErrorCodeSyncConfigWriteFailure,
		fmt.Sprintf("no configuration slot decrypted successfully: %v", lastErr))
}

// Write persists entries, targeting the slot other than the one Read last
// succeeded from, then removing the older slot once the new one is durably
// on disk (spec §4.3). If no Read has happened yet in this process, slot 0
// is targeted.
func (s *Store) Write(entries []Entry) error {
	targetSlot := 0
	if s.lastReadSlot == 0 {
		targetSlot = 1
	}

	plaintext, err := json.Marshal(document{Entries: entries})
	if err != nil {
		return fmt.Errorf("unable to marshal configuration: %w", err)
	}

	ciphertext, err := seal(s.keys, plaintext)
	if err != nil {
		return synccore.NewEngineError(synccore.ErrorCodeSyncConfigWriteFailure, err.Error())
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return synccore.NewEngineError(synccore.ErrorCodeSyncConfigWriteFailure, err.Error())
	}

	if err := s.writeAtomic(s.slotPath(targetSlot), ciphertext); err != nil {
		return synccore.NewEngineError(synccore.ErrorCodeSyncConfigWriteFailure, err.Error())
	}

	otherSlot := 1 - targetSlot
	must.OSRemove(s.slotPath(otherSlot), s.logger)

	s.lastReadSlot = targetSlot
	return nil
}

// writeAtomic writes data to path via a temporary file and rename, so a
// crash never leaves a partially written slot visible under its final name
// — the same approach as the teacher's filesystem.WriteFileAtomic.
func (s *Store) writeAtomic(path string, data []byte) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), atomicWriteTemporaryPrefix)
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}

	if _, err := temporary.Write(data); err != nil {
		must.Close(temporary, s.logger)
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("unable to write temporary file: %w", err)
	}

	if err := temporary.Close(); err != nil {
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("unable to close temporary file: %w", err)
	}

	if err := os.Chmod(temporary.Name(), 0o600); err != nil {
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("unable to set permissions: %w", err)
	}

	if err := os.Rename(temporary.Name(), path); err != nil {
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("unable to rename temporary file into place: %w", err)
	}

	return nil
}
