package replacefiles

import (
	"context"
	"log/slog"
)

// Hook system allows extending replacement behavior without modifying core code.
// Hooks are called at specific points in the replacement lifecycle.

// Operation names reported to OnError hooks
const (
	OpUpload    = "upload_replacement"
	OpCloneMeta = "clone_meta"
	OpMerge     = "merge"
	OpCopyFile  = "copy_file"
	OpDelete    = "delete"
)

// Reasons reported to AfterDelete hooks
const (
	DeleteReasonMerged        = "merged"
	DeleteReasonInvalidParent = "invalid_parent"
	DeleteReasonRejected      = "rejected"
	DeleteReasonRequested     = "requested"
)

// Hooks defines all available lifecycle hooks
type Hooks struct {
	// ExcludeMetaKeys extends the meta keys skipped by CloneMeta
	ExcludeMetaKeys []ExcludeMetaKeysHook

	// Replacement lifecycle hooks
	AfterUpload []AfterUploadHook
	BeforeMerge []BeforeMergeHook
	AfterMerge  []AfterMergeHook
	AfterDelete []AfterDeleteHook

	// Error hooks
	OnError []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// ExcludeMetaKeysHook receives the current deny-list and returns the new one
type ExcludeMetaKeysHook func(hctx *HookContext, keys []string) []string

// AfterUploadHook is called once a replacement is stored and linked to its parent
type AfterUploadHook func(hctx *HookContext, parent, replacement *Attachment, bytesWritten int64) error

// BeforeMergeHook is called before a replacement is merged. Returning an error aborts the merge.
type BeforeMergeHook func(hctx *HookContext, original, replacement *Attachment) error

// AfterMergeHook is called after the replacement has been merged and deleted
type AfterMergeHook func(hctx *HookContext, original *Attachment, replacementID int64) error

// AfterDeleteHook is called after an attachment has been permanently deleted
type AfterDeleteHook func(hctx *HookContext, attachment *Attachment, reason string) error

// ErrorHook is called when an error occurs
type ErrorHook func(hctx *HookContext, operation string, err error)

// Merge appends all hooks of other to h
func (h *Hooks) Merge(other *Hooks) {
	if other == nil {
		return
	}
	h.ExcludeMetaKeys = append(h.ExcludeMetaKeys, other.ExcludeMetaKeys...)
	h.AfterUpload = append(h.AfterUpload, other.AfterUpload...)
	h.BeforeMerge = append(h.BeforeMerge, other.BeforeMerge...)
	h.AfterMerge = append(h.AfterMerge, other.AfterMerge...)
	h.AfterDelete = append(h.AfterDelete, other.AfterDelete...)
	h.OnError = append(h.OnError, other.OnError...)
}

// Hook execution helpers

// executeExcludeMetaKeys runs all ExcludeMetaKeys hooks
func (h *Hooks) executeExcludeMetaKeys(ctx context.Context, keys []string) []string {
	if len(h.ExcludeMetaKeys) == 0 {
		return keys
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.ExcludeMetaKeys {
		keys = hook(hctx, keys)
		if hctx.StopChain {
			break
		}
	}
	return keys
}

// executeAfterUpload runs all AfterUpload hooks
func (h *Hooks) executeAfterUpload(ctx context.Context, parent, replacement *Attachment, bytesWritten int64) error {
	if len(h.AfterUpload) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterUpload {
		if err := hook(hctx, parent, replacement, bytesWritten); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeBeforeMerge runs all BeforeMerge hooks
func (h *Hooks) executeBeforeMerge(ctx context.Context, original, replacement *Attachment) error {
	if len(h.BeforeMerge) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeMerge {
		if err := hook(hctx, original, replacement); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeAfterMerge runs all AfterMerge hooks
func (h *Hooks) executeAfterMerge(ctx context.Context, original *Attachment, replacementID int64) error {
	if len(h.AfterMerge) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterMerge {
		if err := hook(hctx, original, replacementID); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeAfterDelete runs all AfterDelete hooks
func (h *Hooks) executeAfterDelete(ctx context.Context, attachment *Attachment, reason string) error {
	if len(h.AfterDelete) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterDelete {
		if err := hook(hctx, attachment, reason); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// executeOnError runs all OnError hooks
func (h *Hooks) executeOnError(ctx context.Context, operation string, err error) {
	if len(h.OnError) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnError {
		hook(hctx, operation, err)
		if hctx.StopChain {
			break
		}
	}
}

// Common hook implementations

// LoggingHook logs replacement lifecycle events
func LoggingHook(logger *slog.Logger) *Hooks {
	return &Hooks{
		AfterUpload: []AfterUploadHook{
			func(hctx *HookContext, parent, replacement *Attachment, bytesWritten int64) error {
				logger.InfoContext(hctx.Context, "replacement uploaded",
					"parent_id", parent.ID, "replacement_id", replacement.ID, "bytes", bytesWritten)
				return nil
			},
		},
		AfterMerge: []AfterMergeHook{
			func(hctx *HookContext, original *Attachment, replacementID int64) error {
				logger.InfoContext(hctx.Context, "replacement merged",
					"attachment_id", original.ID, "replacement_id", replacementID)
				return nil
			},
		},
		AfterDelete: []AfterDeleteHook{
			func(hctx *HookContext, attachment *Attachment, reason string) error {
				logger.InfoContext(hctx.Context, "attachment deleted", "attachment_id", attachment.ID, "reason", reason)
				return nil
			},
		},
		OnError: []ErrorHook{
			func(hctx *HookContext, operation string, err error) {
				logger.ErrorContext(hctx.Context, "replacement operation failed", "operation", operation, "error", err)
			},
		},
	}
}

// ExcludeMetaKeys returns a hook that adds keys to the clone deny-list
func ExcludeMetaKeys(keys ...string) ExcludeMetaKeysHook {
	return func(hctx *HookContext, current []string) []string {
		return append(current, keys...)
	}
}
