package object

import "context"

// Body is the raw payload of a tracked object as delivered by the watch
// transport. Only the metadata fields below are interpreted here; the rest
// is opaque and belongs to the handlers.
type Body map[string]any

// UID returns the cluster-unique identifier of the object, or "" when the
// payload carries none. Callers relying on the empty key must guarantee
// uniqueness themselves.
func (b Body) UID() string {
	md, _ := b["metadata"].(map[string]any)
	uid, _ := md["uid"].(string)
	return uid
}

// Name returns metadata.name, or "" when absent.
func (b Body) Name() string {
	md, _ := b["metadata"].(map[string]any)
	name, _ := md["name"].(string)
	return name
}

// BeingDeleted reports whether the object is marked for deletion.
func (b Body) BeingDeleted() bool {
	md, _ := b["metadata"].(map[string]any)
	ts, ok := md["deletionTimestamp"].(string)
	return ok && ts != ""
}

// Finalizers returns the finalizer list from metadata, possibly empty.
func (b Body) Finalizers() []string {
	md, _ := b["metadata"].(map[string]any)
	raw, _ := md["finalizers"].([]any)
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// HasFinalizer reports whether the given finalizer is present.
func (b Body) HasFinalizer(finalizer string) bool {
	for _, f := range b.Finalizers() {
		if f == finalizer {
			return true
		}
	}
	return false
}

// Patch is a partial update to an object's status and/or metadata,
// expressed as a nested map merged server-side.
type Patch map[string]any

// Patcher applies partial updates to objects. The transport is external;
// failures are logged by the caller and retried on the next pass.
type Patcher interface {
	ApplyPatch(ctx context.Context, uid string, patch Patch) error
}

// PatcherFunc adapts a function to the Patcher interface.
type PatcherFunc func(ctx context.Context, uid string, patch Patch) error

func (f PatcherFunc) ApplyPatch(ctx context.Context, uid string, patch Patch) error {
	return f(ctx, uid, patch)
}

// StatusPatch builds a status marker for one daemon under
// status.<prefix>.daemons.<id>. A nil state clears the marker.
func StatusPatch(prefix, daemonID string, state any) Patch {
	return Patch{
		"status": map[string]any{
			prefix: map[string]any{
				"daemons": map[string]any{daemonID: state},
			},
		},
	}
}

// FinalizerRemovalPatch builds a metadata patch that rewrites the finalizer
// list without the given finalizer, unblocking the object's deletion.
func FinalizerRemovalPatch(b Body, finalizer string) Patch {
	remaining := make([]string, 0)
	for _, f := range b.Finalizers() {
		if f != finalizer {
			remaining = append(remaining, f)
		}
	}
	return Patch{
		"metadata": map[string]any{"finalizers": remaining},
	}
}
