package orchestrator

import (
	"context"

	"github.com/cloudsync/synccore/pkg/core"
	"github.com/cloudsync/synccore/pkg/notify"
)

// UploadResult is what a dispatched upload resolves to: the cloud handle the
// content was written under, or an error (spec §6: "startUpload(...) →
// completion(error, new-handle)").
type UploadResult struct {
	Handle core.Handle
	Err    error
}

// CloudClient is the network-client collaborator the orchestrator drives
// (spec §6, §1 non-goals: "the network client that performs cloud RPC...
// not specified here"). synccore defines only this interface; an
// implementation that actually speaks to the cloud is supplied by the
// embedding application.
//
// Every method that performs a round trip returns a channel rather than
// blocking, so the orchestrator's own goroutine is never the one waiting on
// network I/O (spec §5: "The orchestrator itself never performs blocking
// I/O... handed off as closures to the network-client thread and observed
// via completion tokens"). LookupNode/LookupChildren are the exception: per
// spec §5 the cloud-node tree is a read-mostly, client-owned structure the
// orchestrator briefly consults, so a synchronous read against an
// already-maintained in-memory tree is expected to return promptly.
type CloudClient interface {
	LookupNode(ctx context.Context, handle core.Handle) (*core.CloudNode, error)
	LookupChildren(ctx context.Context, parent core.Handle) ([]*core.CloudNode, error)
	Move(ctx context.Context, from, to core.Handle, newName string) <-chan error
	SetName(ctx context.Context, handle core.Handle, name string) <-chan error
	MoveToDebris(ctx context.Context, handle core.Handle, inShare bool) <-chan error
	StartUpload(ctx context.Context, localPath string, parent core.Handle, name string, fp core.Fingerprint) <-chan UploadResult
	StartDownload(ctx context.Context, handle core.Handle, stagingPath string) <-chan error
}

// NotificationSource is the filesystem-notification collaborator (spec §6,
// §1 non-goals: "the filesystem-notification source... not specified
// here"). The orchestrator drains it once per tick (spec §4.10 step 3).
type NotificationSource interface {
	Notifications() <-chan notify.Event
}
