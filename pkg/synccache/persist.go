package synccache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloudsync/synccore/pkg/aead"
	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/logging"
	"github.com/cloudsync/synccore/pkg/must"
)

// Flush thresholds (spec §4.5: "flushed ... when the pending set exceeds
// ~100 entries during initial scan, ~50,000 between-flushes"). Callers pick
// whichever applies via SetFlushThreshold once the initial scan completes.
const (
	InitialScanFlushThreshold = 100
	SteadyStateFlushThreshold = 50000
)

const (
	frameKindUpsert    byte = 1
	frameKindTombstone byte = 2
)

// Persistence is the coalescing, crash-tolerant append-only log backing one
// sync's Cache (spec §4.5). Writers never rewrite prior records in place;
// an insert/update appends a fresh record under the node's database ID, and
// a later tombstone for the same ID supersedes it on the next Load. This
// trades unbounded file growth for write simplicity and crash safety — the
// same log-structured trade the teacher's synchronization state file makes.
type Persistence struct {
	path   string
	keys   *aead.Keys
	logger *logging.Logger

	file *os.File

	nextID uint64

	insertQueue    map[uint64]*pendingUpsert
	deleteQueue    map[uint64]struct{}
	flushThreshold int
}

type pendingUpsert struct {
	node     *core.SyncNode
	parentID uint64
}

// Open derives the log's encryption keys from masterSecret and prepares it
// for appends; it does not load existing records (use Load for that).
func Open(path string, masterSecret []byte, logger *logging.Logger) (*Persistence, error) {
	keys, err := aead.Derive(masterSecret, "synccore-synccache-cipher-key", "synccore-synccache-auth-key", nil)
	if err != nil {
		return nil, fmt.Errorf("unable to derive sync-cache keys: %w", err)
	}
	return &Persistence{
		path:           path,
		keys:           keys,
		logger:         logger,
		nextID:         1,
		insertQueue:    make(map[uint64]*pendingUpsert),
		deleteQueue:    make(map[uint64]struct{}),
		flushThreshold: InitialScanFlushThreshold,
	}, nil
}

// SetFlushThreshold adjusts the coalescing threshold. Open starts every log
// at InitialScanFlushThreshold; nothing in the module raises it to
// SteadyStateFlushThreshold, so a caller that wants the steady-state
// threshold sets it here.
func (p *Persistence) SetFlushThreshold(n int) { p.flushThreshold = n }

// Load reads every frame in the log, tolerating a truncated final frame
// (the result of a crash mid-append), and returns the surviving records
// keyed by database ID. It also advances the log's next-ID allocator past
// the highest ID observed, so newly created nodes never collide with a
// persisted one.
func (p *Persistence) Load() (map[uint64]nodeRecord, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return map[uint64]nodeRecord{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("unable to read sync-cache log: %w", err)
	}

	records := make(map[uint64]nodeRecord)
	offset := 0
	for offset < len(data) {
		kind := data[offset]
		offset++
		if offset+8 > len(data) {
			break // truncated trailing frame: tolerate and stop.
		}
		id := binary.BigEndian.Uint64(data[offset : offset+8])
		offset += 8

		if id >= p.nextID {
			p.nextID = id + 1
		}

		if kind == frameKindTombstone {
			delete(records, id)
			continue
		}

		if offset+4 > len(data) {
			break
		}
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		offset += 4
		if offset+int(length) > len(data) {
			break // truncated payload: drop the dangling record.
		}
		blob := data[offset : offset+int(length)]
		offset += int(length)

		plaintext, err := aead.Open(p.keys, blob)
		if err != nil {
			p.logger.Warnf("synccache: discarding unreadable record %d: %v", id, err)
			continue
		}
		var rec nodeRecord
		if err := json.Unmarshal(plaintext, &rec); err != nil {
			p.logger.Warnf("synccache: discarding malformed record %d: %v", id, err)
			continue
		}
		records[id] = rec
	}

	return records, nil
}

// QueueUpsert assigns a database ID to n if it doesn't already have one,
// coalesces it into the pending insert/update batch, and flushes if the
// batch has grown past the current threshold.
func (p *Persistence) QueueUpsert(n *core.SyncNode, parentID uint64) error {
	if n.DatabaseID == 0 {
		n.DatabaseID = p.nextID
		p.nextID++
	}
	delete(p.deleteQueue, n.DatabaseID)
	p.insertQueue[n.DatabaseID] = &pendingUpsert{node: n, parentID: parentID}
	return p.maybeFlush()
}

// QueueDelete marks a database ID for removal by database ID (spec §4.5:
// "removal is by database ID"), dropping any still-pending insert for the
// same ID.
func (p *Persistence) QueueDelete(id uint64) error {
	if id == 0 {
		return nil
	}
	delete(p.insertQueue, id)
	p.deleteQueue[id] = struct{}{}
	return p.maybeFlush()
}

func (p *Persistence) maybeFlush() error {
	if len(p.insertQueue)+len(p.deleteQueue) >= p.flushThreshold {
		return p.Flush()
	}
	return nil
}

// Flush appends every queued record to the log and clears the queues. It is
// always safe to call even with nothing queued.
func (p *Persistence) Flush() error {
	if len(p.insertQueue) == 0 && len(p.deleteQueue) == 0 {
		return nil
	}

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("unable to open sync-cache log for append: %w", err)
	}
	defer must.Close(f, p.logger)

	for id, pending := range p.insertQueue {
		rec := toRecord(pending.node, pending.parentID)
		plaintext, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("unable to marshal sync-cache record %d: %w", id, err)
		}
		blob, err := aead.Seal(p.keys, plaintext)
		if err != nil {
			return fmt.Errorf("unable to seal sync-cache record %d: %w", id, err)
		}
		if err := writeFrame(f, frameKindUpsert, id, blob); err != nil {
			return err
		}
	}

	for id := range p.deleteQueue {
		if err := writeFrame(f, frameKindTombstone, id, nil); err != nil {
			return err
		}
	}

	p.insertQueue = make(map[uint64]*pendingUpsert)
	p.deleteQueue = make(map[uint64]struct{})
	return nil
}

func writeFrame(f *os.File, kind byte, id uint64, payload []byte) error {
	header := make([]byte, 1+8+4)
	header[0] = kind
	binary.BigEndian.PutUint64(header[1:9], id)
	binary.BigEndian.PutUint32(header[9:13], uint32(len(payload)))
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("unable to write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("unable to write frame payload: %w", err)
		}
	}
	return nil
}
