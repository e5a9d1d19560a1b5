package synccache

import (
	"time"

	"github.com/cloudsync/synccore/pkg/core"
)

// nodeRecord is the persistent representation of one core.SyncNode: enough
// fields to reconstruct the synced-identity half of the tree on restart
// (spec §4.5: "the persistent table stores each node as a serialized
// blob"). Transient fields — RareFields, the propagation flags — are never
// persisted; a restart always begins with every flag clear, which is safe
// because spec §4.2's scan-on-restart pass recomputes whatever the flags
// would have marked.
type nodeRecord struct {
	ID           uint64          `json:"id"`
	ParentID     uint64          `json:"pid"`
	LocalName    string          `json:"n"`
	ShortName    string          `json:"sn"`
	Type         core.NodeType   `json:"tp"`
	SyncedFsid   uint64          `json:"fsid,omitempty"`
	SyncedHandle uint64          `json:"h,omitempty"`
	Size         int64           `json:"sz"`
	ModTime      time.Time       `json:"mt"`
	Checksum     [16]byte        `json:"cs"`
	HasChecksum  bool            `json:"hc"`
}

// toRecord captures the persistent fields of a SyncNode, using parentID as
// the already-resolved database ID of n.Parent (0 for the root).
func toRecord(n *core.SyncNode, parentID uint64) nodeRecord {
	fp := n.LastSyncedFingerprint
	rec := nodeRecord{
		ID:          n.DatabaseID,
		ParentID:    parentID,
		LocalName:   n.LocalName,
		ShortName:   n.ShortName,
		Type:        n.Type,
		Size:        fp.Size,
		ModTime:     fp.ModTime,
		Checksum:    fp.Checksum,
		HasChecksum: fp.HasChecksum,
	}
	if n.LastSyncedFsid.Valid() {
		rec.SyncedFsid = n.LastSyncedFsid.Value()
	}
	if n.LastSyncedHandle.Valid() {
		rec.SyncedHandle = uint64(n.LastSyncedHandle)
	}
	return rec
}

// toSyncNode reconstructs a detached SyncNode (without Parent/children
// wired up yet — the caller links the tree once every record has been
// decoded) from a persisted record.
func (r nodeRecord) toSyncNode() *core.SyncNode {
	n := core.NewSyncNode(r.LocalName, r.Type, nil)
	n.ShortName = r.ShortName
	n.DatabaseID = r.ID
	n.LastSyncedFingerprint = core.Fingerprint{
		Size:        r.Size,
		ModTime:     r.ModTime,
		Checksum:    r.Checksum,
		HasChecksum: r.HasChecksum,
	}
	if r.SyncedFsid != 0 {
		n.LastSyncedFsid = core.NewFsid(r.SyncedFsid)
	}
	if r.SyncedHandle != 0 {
		n.LastSyncedHandle = core.Handle(r.SyncedHandle)
	}
	return n
}
