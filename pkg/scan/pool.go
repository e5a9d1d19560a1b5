package scan

import (
	"os"
	"sync/atomic"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/logging"
)

// Pool is a small set of worker goroutines shared across all syncs (spec
// §4.4: "A small pool of worker threads shared across all syncs (default:
// one)."). Requests are accepted on a buffered channel and a single
// termination sentinel (closing done) stops every worker, which is the
// Go-idiomatic analogue of the spec's mutex+condvar queue with a sentinel
// shutdown request.
type Pool struct {
	requests chan *Request
	done     chan struct{}
	stopped  atomic.Bool
	logger   *logging.Logger
}

// NewPool starts a Pool with workerCount goroutines.
func NewPool(workerCount int, logger *logging.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}

	p := &Pool{
		requests: make(chan *Request, 64),
		done:     make(chan struct{}),
		logger:   logger,
	}

	for i := 0; i < workerCount; i++ {
		go p.worker()
	}

	return p
}

// worker repeatedly pulls a request off the queue and scans it, until the
// pool is stopped.
func (p *Pool) worker() {
	for {
		select {
		case req, ok := <-p.requests:
			if !ok {
				return
			}
			select {
			case <-p.done:
				req.result <- Result{Dir: req.Dir, Err: ErrPoolStopped}
				return
			default:
			}
			p.run(req)
		case <-p.done:
			return
		}
	}
}

// Enqueue submits a directory for scanning and returns a channel that
// receives exactly one Result — the "waiter cookie" the owning sync blocks
// on (spec §4.4: "Completion signals the owning sync via a waiter cookie so
// the orchestrator wakes").
func (p *Pool) Enqueue(req *Request) <-chan Result {
	req.result = make(chan Result, 1)
	if p.stopped.Load() {
		req.result <- Result{Dir: req.Dir, Err: ErrPoolStopped}
		return req.result
	}
	select {
	case p.requests <- req:
	case <-p.done:
		req.result <- Result{Dir: req.Dir, Err: ErrPoolStopped}
	}
	return req.result
}

// Stop terminates every worker; in-flight requests already dequeued are
// allowed to finish, but no new request will be started.
func (p *Pool) Stop() {
	p.stopped.Store(true)
	close(p.done)
}

// run performs the scan for one request and delivers its result.
func (p *Pool) run(req *Request) {
	entries, err := scanDirectory(req.Dir, req.FollowSymlinks, req.PriorKnownChildren, p.logger)
	req.result <- Result{Dir: req.Dir, Entries: entries, Err: err}
}

// scanDirectory lists dir and builds an FsNode per entry, applying the
// fingerprint reuse rule and marking transient/permanent failures per-entry
// rather than aborting the scan (spec §4.4).
func scanDirectory(dir string, followSymlinks bool, prior map[string]*core.FsNode, logger *logging.Logger) (map[string]*core.FsNode, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*core.FsNode, len(names))
	for _, name := range names {
		entry := buildEntry(dir, name, followSymlinks, prior[name], logger)
		result[name] = entry
	}

	return result, nil
}

// buildEntry classifies a single directory entry, never returning an error:
// any failure is folded into Blocked or NodeTypeUnknown on the returned
// node, per spec §4.4's "Per-entry failures ... do not abort the scan."
func buildEntry(dir, name string, followSymlinks bool, prior *core.FsNode, logger *logging.Logger) *core.FsNode {
	fullPath := dir + string(os.PathSeparator) + name

	info, err := os.Lstat(fullPath)
	if err != nil {
		logger.Debugf("scan: blocked entry %q: %v", fullPath, err)
		return &core.FsNode{Name: name, Blocked: true}
	}

	entry := &core.FsNode{Name: name}

	switch {
	case info.Mode()&os.ModeSymlink != 0 && !followSymlinks:
		entry.Type = core.NodeTypeSymlink
		return entry
	case info.IsDir():
		entry.Type = core.NodeTypeFolder
	case info.Mode().IsRegular() || (info.Mode()&os.ModeSymlink != 0 && followSymlinks):
		entry.Type = core.NodeTypeFile
	default:
		entry.Type = core.NodeTypeUnknown
		return entry
	}

	if fsid, ok := platformFsid(info); ok {
		entry.Fsid = core.NewFsid(fsid)
	}

	if entry.Type == core.NodeTypeFile {
		candidate := core.Fingerprint{Size: info.Size(), ModTime: info.ModTime()}
		probe := &core.FsNode{Type: entry.Type, Fsid: entry.Fsid, Fingerprint: candidate}
		if reused, ok := reuseFingerprint(prior, probe); ok {
			entry.Fingerprint = reused
		} else if fp, err := computeFingerprint(fullPath, info.Size(), info.ModTime()); err != nil {
			logger.Debugf("scan: blocked entry %q while fingerprinting: %v", fullPath, err)
			entry.Blocked = true
		} else {
			entry.Fingerprint = fp
		}
	}

	return entry
}

// StatEntry classifies and fingerprints a single filesystem path outside of
// a directory-wide scan, with no prior entry to reuse a fingerprint from.
// The orchestrator uses this to check the sync root each tick and to refresh
// a row's identity immediately after a dispatched download completes (spec
// §4.7 Step B's "refresh
// fsid and handle"), rather than waiting for the next full directory scan.
func StatEntry(fullPath string, logger *logging.Logger) *core.FsNode {
	dir, name := splitPath(fullPath)
	return buildEntry(dir, name, false, nil, logger)
}

func splitPath(fullPath string) (dir, name string) {
	idx := -1
	for i := len(fullPath) - 1; i >= 0; i-- {
		if fullPath[i] == os.PathSeparator {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ".", fullPath
	}
	return fullPath[:idx], fullPath[idx+1:]
}

// ErrPoolStopped is returned (via Result.Err) for any request submitted
// after Stop.
var ErrPoolStopped = poolStoppedError{}

type poolStoppedError struct{}

func (poolStoppedError) Error() string { return "scan pool stopped" }
