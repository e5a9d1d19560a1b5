package orchestrator

import (
	"context"
	"os"
	"strings"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/core/ignore"
	"github.com/cloudsync/synccore/pkg/core/path"
	"github.com/cloudsync/synccore/pkg/scan"
)

const ignoreFileName = ".megaignore"

// syncDirSource implements reconcile.DirSource for one Sync, bridging the
// reconciler's synchronous per-directory queries onto the CloudClient and
// the pre-computed scan snapshots the orchestrator builds once per tick
// (spec §4.7 Step A: "Collect cloud children (from the client)... FS
// children (from the last scan or an inferred snapshot)").
type syncDirSource struct {
	sync *Sync
}

// Cloud returns dir's cloud children. Per spec §5, the cloud-node tree is
// the network client's own read-mostly structure; this is expected to be a
// fast local read against an already-synchronized in-memory tree rather
// than a fresh network round trip.
func (d *syncDirSource) Cloud(dir *core.SyncNode) ([]*core.CloudNode, error) {
	if !dir.LastSyncedHandle.Valid() {
		if dir.Parent == nil {
			return d.sync.client.LookupChildren(d.ctx(), d.sync.RemoteRoot)
		}
		// No cloud identity yet for this directory (it exists only on the
		// filesystem so far): it has no cloud children to report.
		return nil, nil
	}
	return d.sync.client.LookupChildren(d.ctx(), dir.LastSyncedHandle)
}

// Fs returns dir's filesystem children from the current pass's
// pre-computed snapshot map (see prepareFsSnapshots). A directory absent
// from the map (never scanned and with no synced children to infer from)
// reports an empty, non-fresh snapshot.
func (d *syncDirSource) Fs(dir *core.SyncNode) (map[string]*core.FsNode, bool, error) {
	if snap, ok := d.sync.fsSnapshots[dir]; ok {
		return snap.children, snap.fresh, nil
	}
	return map[string]*core.FsNode{}, false, nil
}

func (d *syncDirSource) ctx() context.Context {
	if d.sync.ctx != nil {
		return d.sync.ctx
	}
	return context.Background()
}

// localPath reconstructs n's absolute native filesystem path from the
// sync's root plus n's root-relative position in the tree (spec §3: "A
// SyncNode's position in the tree equals its parent chain").
func localPath(s *Sync, n *core.SyncNode) string {
	rel := string(n.Path())
	if rel == "" {
		return s.LocalRoot
	}
	native := strings.ReplaceAll(rel, "/", string(path.Separator))
	return s.LocalRoot + string(path.Separator) + native
}

// prepareFsSnapshots walks s's synced tree and, for every folder whose
// ScanAgain flag requires it (spec §3: "A SyncNode with scanAgain == here
// must be re-scanned before its subtree is reconciled"), enqueues a scan
// request; directories that don't need a fresh scan get an inferred
// snapshot built from their currently-known synced children (spec §4.4,
// §4.7 Step A). It blocks until every enqueued scan completes, since the
// reconciler's tree walk that follows needs every snapshot up front.
func prepareFsSnapshots(pool *scan.Pool, s *Sync) {
	s.fsSnapshots = make(map[*core.SyncNode]fsDirSnapshot)

	type pending struct {
		dir    *core.SyncNode
		result <-chan scan.Result
	}
	var inFlight []pending

	var walk func(dir *core.SyncNode, forced bool)
	walk = func(dir *core.SyncNode, forced bool) {
		needsScan := forced || dir.ScanAgain == core.Here || dir.ScanAgain == core.HereAndBelow
		if needsScan {
			prior := inferredChildren(s, dir)
			req := &scan.Request{
				Dir:                localPath(s, dir),
				FollowSymlinks:     s.FollowSymlinks,
				PriorKnownChildren: prior,
			}
			inFlight = append(inFlight, pending{dir: dir, result: pool.Enqueue(req)})
		} else {
			s.fsSnapshots[dir] = fsDirSnapshot{children: filterIgnored(s, dir, inferredChildren(s, dir)), fresh: false}
		}

		// HereAndBelow unconditionally forces the whole subtree to rescan
		// (core.FlagState's lattice doc), regardless of each descendant's own
		// flag.
		childForced := forced || dir.ScanAgain == core.HereAndBelow
		for _, child := range dir.Children() {
			if child.Type == core.NodeTypeFolder {
				walk(child, childForced)
			}
		}
	}
	walk(s.Cache.Root(), false)

	s.scanAllFresh = true
	for _, p := range inFlight {
		res := <-p.result
		if res.Err != nil {
			// A blocked directory keeps its inferred snapshot and tries
			// again next tick; the per-entry Blocked flag (spec §4.4)
			// handles finer-grained failures within a successful listing.
			s.fsSnapshots[p.dir] = fsDirSnapshot{children: filterIgnored(s, p.dir, inferredChildren(s, p.dir)), fresh: false}
			s.scanAllFresh = false
			continue
		}
		s.fsSnapshots[p.dir] = fsDirSnapshot{children: filterIgnored(s, p.dir, res.Entries), fresh: true}
	}
}

// ignoreChainFor returns dir's ignore chain, reloading it from its
// .megaignore file if the content has changed since the last pass (spec
// §4.2: "the filter chain stores a fingerprint of the ignore file and
// reloads only on content change"). A directory is only ever given its own
// chain, not merged with an ancestor's, since matching is always evaluated
// against the full remote path rooted at that chain's Base.
func ignoreChainFor(s *Sync, dir *core.SyncNode) *ignore.Chain {
	loader, ok := s.ignoreLoaders[dir]
	if !ok {
		loader = ignore.NewLoader(dir.Path(), s.logger.Sublogger("ignore"))
		if s.ignoreLoaders == nil {
			s.ignoreLoaders = make(map[*core.SyncNode]*ignore.Loader)
		}
		s.ignoreLoaders[dir] = loader
	}

	content, err := os.ReadFile(localPath(s, dir) + string(path.Separator) + ignoreFileName)
	if err != nil {
		content = nil
	}
	if err := loader.Reload(content); err != nil {
		s.logger.Warnf("ignore file at %q failed to parse: %v", dir.Path(), err)
	}
	return loader.Chain()
}

// filterIgnored drops every entry dir's ignore chain excludes, so excluded
// entries never reach triplet construction and so never get a SyncNode
// created for them (spec §4.2; spec §8 edge case 5: "SyncNode for h.tmp not
// created").
func filterIgnored(s *Sync, dir *core.SyncNode, children map[string]*core.FsNode) map[string]*core.FsNode {
	chain := ignoreChainFor(s, dir)
	out := make(map[string]*core.FsNode, len(children))
	for name, entry := range children {
		isDir := entry.Type == core.NodeTypeFolder
		var size int64
		if entry.Type == core.NodeTypeFile {
			size = entry.Fingerprint.Size
		}
		remote := path.AppendRemote(dir.Path(), name)
		if excluded, _ := chain.Evaluate(remote, isDir, size); excluded {
			continue
		}
		out[name] = entry
	}
	return out
}

// inferredChildren builds a synthetic filesystem listing from a directory's
// currently-known synced children, standing in for a scan that hasn't run
// this pass (spec §4.7 Step A: "an inferred snapshot built from cached
// last-synced details when nothing has changed").
func inferredChildren(s *Sync, dir *core.SyncNode) map[string]*core.FsNode {
	children := dir.Children()
	out := make(map[string]*core.FsNode, len(children))
	for _, c := range children {
		if !c.LastSyncedFsid.Valid() {
			continue
		}
		out[c.LocalName] = &core.FsNode{
			Name:        c.LocalName,
			ShortName:   c.ShortName,
			Type:        c.Type,
			Fsid:        c.LastSyncedFsid,
			Fingerprint: c.LastSyncedFingerprint,
		}
	}
	return out
}
