package reconcile

import (
	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/path"
)

// BuildRows performs Step A (triplet construction, spec §4.7): it groups
// cloud, sync-node, and filesystem children of one directory by name under
// the filesystem's case policy, then within each name group pairs entries
// whose identities agree — a sync-node's LastSyncedHandle selects its cloud
// peer, and its LastSyncedFsid (falling back to its scanned-fsid snapshot)
// selects its filesystem peer. Anything left over after pairing becomes a
// clash on the row that absorbs the group.
func BuildRows(dir *core.SyncNode, cloudChildren []*core.CloudNode, fsChildren map[string]*core.FsNode, policy path.CaseSensitivity) []*core.Triplet {
	cloudGroups := groupCloudByFold(cloudChildren, policy)
	fsGroups := groupFsByFold(fsChildren, policy)
	syncChildren := dir.Children()
	syncGroups := groupSyncByFold(syncChildren, policy)

	foldKeys := unionKeys(cloudGroups, fsGroups, syncGroups)

	rows := make([]*core.Triplet, 0, len(foldKeys))
	for _, fold := range foldKeys {
		rows = append(rows, buildGroup(fold, cloudGroups[fold], syncGroups[fold], fsGroups[fold])...)
	}
	return rows
}

func foldName(name string, policy path.CaseSensitivity) string {
	if policy == path.CaseSensitive {
		return name
	}
	return path.Fold(name)
}

func groupCloudByFold(children []*core.CloudNode, policy path.CaseSensitivity) map[string][]*core.CloudNode {
	groups := make(map[string][]*core.CloudNode)
	for _, c := range children {
		key := foldName(c.Name, policy)
		groups[key] = append(groups[key], c)
	}
	return groups
}

func groupFsByFold(children map[string]*core.FsNode, policy path.CaseSensitivity) map[string][]*core.FsNode {
	groups := make(map[string][]*core.FsNode)
	for _, f := range children {
		key := foldName(f.Name, policy)
		groups[key] = append(groups[key], f)
	}
	return groups
}

func groupSyncByFold(children []*core.SyncNode, policy path.CaseSensitivity) map[string][]*core.SyncNode {
	groups := make(map[string][]*core.SyncNode)
	for _, s := range children {
		key := foldName(s.LocalName, policy)
		groups[key] = append(groups[key], s)
	}
	return groups
}

func unionKeys(maps ...interface{}) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, m := range maps {
		switch typed := m.(type) {
		case map[string][]*core.CloudNode:
			for k := range typed {
				add(k)
			}
		case map[string][]*core.SyncNode:
			for k := range typed {
				add(k)
			}
		case map[string][]*core.FsNode:
			for k := range typed {
				add(k)
			}
		}
	}
	return keys
}

// buildGroup pairs the candidates sharing one folded name into rows. It
// returns one or more Triplets: normally exactly one, but more if the group
// holds genuine clashes (e.g. two cloud entries differing only by case on a
// case-insensitive filesystem) that can't all be absorbed into a single
// row's clash lists alongside a paired sync-node.
func buildGroup(fold string, cloudCandidates []*core.CloudNode, syncCandidates []*core.SyncNode, fsCandidates []*core.FsNode) []*core.Triplet {
	var rows []*core.Triplet

	// Pair each sync-node with its identity-matched cloud/fs peer, if any.
	for _, sync := range syncCandidates {
		row := &core.Triplet{Name: sync.LocalName, Sync: sync}

		if sync.LastSyncedHandle.Valid() {
			if idx := findCloudByHandle(cloudCandidates, sync.LastSyncedHandle); idx >= 0 {
				row.Cloud = cloudCandidates[idx]
				cloudCandidates = removeCloudAt(cloudCandidates, idx)
			}
		}
		if sync.LastSyncedFsid.Valid() {
			if idx := findFsByFsid(fsCandidates, sync.LastSyncedFsid); idx >= 0 {
				row.Fs = fsCandidates[idx]
				fsCandidates = removeFsAt(fsCandidates, idx)
			}
		}
		// If identity matching found nothing (e.g. this filesystem can't
		// report fsids), fall back to an exact-name match within the fold
		// group, which is the common single-candidate case.
		if row.Cloud == nil {
			if idx := findCloudByName(cloudCandidates, sync.LocalName); idx >= 0 {
				row.Cloud = cloudCandidates[idx]
				cloudCandidates = removeCloudAt(cloudCandidates, idx)
			}
		}
		if row.Fs == nil {
			if idx := findFsByExactOrShortName(fsCandidates, sync.LocalName); idx >= 0 {
				row.Fs = fsCandidates[idx]
				fsCandidates = removeFsAt(fsCandidates, idx)
			}
		}

		rows = append(rows, row)
	}

	// Whatever remains is unpaired with any sync-node: pair cloud/fs
	// leftovers with each other by exact name, then emit singleton rows for
	// anything still left, accumulating genuine clashes on the first row.
	for len(cloudCandidates) > 0 || len(fsCandidates) > 0 {
		var cloud *core.CloudNode
		var fs *core.FsNode

		if len(cloudCandidates) > 0 {
			cloud = cloudCandidates[0]
			cloudCandidates = cloudCandidates[1:]
			if idx := findFsByExactOrShortName(fsCandidates, cloud.Name); idx >= 0 {
				fs = fsCandidates[idx]
				fsCandidates = removeFsAt(fsCandidates, idx)
			}
		} else {
			fs = fsCandidates[0]
			fsCandidates = fsCandidates[1:]
		}

		name := fold
		if cloud != nil {
			name = cloud.Name
		} else if fs != nil {
			name = fs.Name
		}
		rows = append(rows, &core.Triplet{Name: name, Cloud: cloud, Fs: fs})
	}

	if len(rows) == 0 {
		return rows
	}
	// Any candidates that somehow survived (shouldn't, given the loops
	// above drain both slices) become clashes on the first row, per the
	// spec's "remaining unpaired entries on the same side become clashes".
	primary := rows[0]
	primary.CloudClashingNames = append(primary.CloudClashingNames, cloudCandidates...)
	primary.FsClashingNames = append(primary.FsClashingNames, fsCandidates...)

	return rows
}

func findCloudByHandle(candidates []*core.CloudNode, h core.Handle) int {
	for i, c := range candidates {
		if c.Handle == h {
			return i
		}
	}
	return -1
}

func findCloudByName(candidates []*core.CloudNode, name string) int {
	for i, c := range candidates {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func findFsByFsid(candidates []*core.FsNode, f core.Fsid) int {
	for i, c := range candidates {
		if c.Fsid.Equal(f) {
			return i
		}
	}
	return -1
}

func findFsByExactOrShortName(candidates []*core.FsNode, name string) int {
	for i, c := range candidates {
		if c.MatchesName(name) {
			return i
		}
	}
	return -1
}

func removeCloudAt(s []*core.CloudNode, i int) []*core.CloudNode {
	return append(s[:i], s[i+1:]...)
}

func removeFsAt(s []*core.FsNode, i int) []*core.FsNode {
	return append(s[:i], s[i+1:]...)
}
