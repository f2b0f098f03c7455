// Package workflow moves replacements through the approval queue.
//
// A replacement starts draft-like (draft or replace-pending), is submitted
// to pending, and is then approved to publish or rejected. Approval and
// rejection are announced to subscribers; the host decides what they mean,
// typically merging on approval and deleting on rejection.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/replace-files/pkg/replacefiles"
)

// Store is the persistence the workflow needs. replacefiles.Service satisfies it.
type Store interface {
	GetAttachment(ctx context.Context, id int64) (*replacefiles.Attachment, error)
	UpdateAttachment(ctx context.Context, attachment *replacefiles.Attachment) error
}

// Handler reacts to a workflow transition
type Handler func(ctx context.Context, attachment *replacefiles.Attachment) error

// Workflow drives status transitions of attachments under approval
type Workflow struct {
	store  Store
	logger *slog.Logger

	mu          sync.RWMutex
	onSubmitted []Handler
	onApproved  []Handler
	onRejected  []Handler
}

// Option configures a Workflow
type Option func(*Workflow)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// New creates a workflow over store
func New(store Store, opts ...Option) *Workflow {
	w := &Workflow{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnSubmitted subscribes h to submissions
func (w *Workflow) OnSubmitted(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSubmitted = append(w.onSubmitted, h)
}

// OnApproved subscribes h to approvals
func (w *Workflow) OnApproved(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onApproved = append(w.onApproved, h)
}

// OnRejected subscribes h to rejections
func (w *Workflow) OnRejected(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onRejected = append(w.onRejected, h)
}

// Submit places a draft-like attachment in the approval queue. The caller
// must be its author or hold edit_attachments.
func (w *Workflow) Submit(ctx context.Context, caller replacefiles.Caller, id int64) (*replacefiles.Attachment, error) {
	attachment, err := w.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Can(replacefiles.CapEditAttachments) && caller.UserID != attachment.AuthorID {
		return nil, fmt.Errorf("submit attachment %d: %w", id, replacefiles.ErrForbidden)
	}
	if err := replacefiles.CanSubmit(attachment.Status); err != nil {
		return nil, err
	}

	// pending is written directly; the insert allow-list does not apply here.
	if err := w.transition(ctx, attachment, replacefiles.StatusPending); err != nil {
		return nil, err
	}
	w.logger.InfoContext(ctx, "attachment submitted for approval", "attachment_id", id, "user_id", caller.UserID)
	return attachment, w.emit(ctx, w.handlers(&w.onSubmitted), attachment)
}

// DecisionError is returned by Approve and Reject when a subscriber fails.
// Removed reports that the subscribers already deleted the attachment, so
// the decision stands. Otherwise the attachment is back in pending and the
// decision can be made again.
type DecisionError struct {
	AttachmentID int64
	Status       replacefiles.Status
	Removed      bool
	Err          error
}

func (e *DecisionError) Error() string {
	if e.Removed {
		return fmt.Sprintf("attachment %d decided and removed: %v", e.AttachmentID, e.Err)
	}
	return fmt.Sprintf("attachment %d left %s: %v", e.AttachmentID, e.Status, e.Err)
}

func (e *DecisionError) Unwrap() error {
	return e.Err
}

// Approve publishes a pending attachment and notifies OnApproved subscribers
func (w *Workflow) Approve(ctx context.Context, caller replacefiles.Caller, id int64) (*replacefiles.Attachment, error) {
	attachment, err := w.decide(ctx, caller, id, replacefiles.StatusPublish)
	if err != nil {
		return nil, err
	}
	w.logger.InfoContext(ctx, "attachment approved", "attachment_id", id, "user_id", caller.UserID)
	return w.settle(ctx, attachment, w.handlers(&w.onApproved))
}

// Reject marks a pending attachment rejected and notifies OnRejected subscribers
func (w *Workflow) Reject(ctx context.Context, caller replacefiles.Caller, id int64) (*replacefiles.Attachment, error) {
	attachment, err := w.decide(ctx, caller, id, replacefiles.StatusRejected)
	if err != nil {
		return nil, err
	}
	w.logger.InfoContext(ctx, "attachment rejected", "attachment_id", id, "user_id", caller.UserID)
	return w.settle(ctx, attachment, w.handlers(&w.onRejected))
}

// settle runs the decision subscribers. When one fails and the attachment
// still exists it goes back to pending.
func (w *Workflow) settle(ctx context.Context, attachment *replacefiles.Attachment, handlers []Handler) (*replacefiles.Attachment, error) {
	err := w.emit(ctx, handlers, attachment)
	if err == nil {
		return attachment, nil
	}

	current, getErr := w.store.GetAttachment(ctx, attachment.ID)
	if errors.Is(getErr, replacefiles.ErrAttachmentNotFound) {
		return attachment, &DecisionError{AttachmentID: attachment.ID, Status: attachment.Status, Removed: true, Err: err}
	}
	if getErr != nil {
		return attachment, &DecisionError{AttachmentID: attachment.ID, Status: attachment.Status, Err: errors.Join(err, getErr)}
	}

	if current.Status == attachment.Status {
		if revertErr := w.transition(ctx, current, replacefiles.StatusPending); revertErr != nil {
			w.logger.ErrorContext(ctx, "failed to return attachment to pending", "attachment_id", current.ID, "error", revertErr)
			return current, &DecisionError{AttachmentID: current.ID, Status: current.Status, Err: errors.Join(err, revertErr)}
		}
		w.logger.WarnContext(ctx, "decision reverted to pending", "attachment_id", current.ID, "error", err)
	}
	return current, &DecisionError{AttachmentID: current.ID, Status: current.Status, Err: err}
}

func (w *Workflow) decide(ctx context.Context, caller replacefiles.Caller, id int64, to replacefiles.Status) (*replacefiles.Attachment, error) {
	if !caller.Can(replacefiles.CapApproveAttachments) {
		return nil, fmt.Errorf("decide attachment %d: %w", id, replacefiles.ErrForbidden)
	}
	attachment, err := w.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := replacefiles.CanDecide(attachment.Status); err != nil {
		return nil, err
	}
	if err := w.transition(ctx, attachment, to); err != nil {
		return nil, err
	}
	return attachment, nil
}

func (w *Workflow) transition(ctx context.Context, attachment *replacefiles.Attachment, to replacefiles.Status) error {
	from := attachment.Status
	attachment.Status = to
	attachment.UpdatedAt = time.Now().UTC()
	if err := w.store.UpdateAttachment(ctx, attachment); err != nil {
		attachment.Status = from
		return err
	}
	return nil
}

func (w *Workflow) handlers(list *[]Handler) []Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Handler(nil), *list...)
}

// emit runs every handler and joins their errors
func (w *Workflow) emit(ctx context.Context, handlers []Handler, attachment *replacefiles.Attachment) error {
	var errs []error
	for _, h := range handlers {
		if err := h(ctx, attachment); err != nil {
			w.logger.ErrorContext(ctx, "workflow handler failed", "attachment_id", attachment.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Replacer is the part of replacefiles.Service that acts on decided replacements
type Replacer interface {
	MergeReplacement(ctx context.Context, replacementID int64) error
	DeleteReplacement(ctx context.Context, replacementID int64) error
}

// BindReplacements merges approved replacements into their originals and
// deletes rejected ones. Attachments without a parent are left alone.
func (w *Workflow) BindReplacements(r Replacer) {
	w.OnApproved(func(ctx context.Context, a *replacefiles.Attachment) error {
		if !a.IsReplacement() {
			return nil
		}
		return r.MergeReplacement(ctx, a.ID)
	})
	w.OnRejected(func(ctx context.Context, a *replacefiles.Attachment) error {
		if !a.IsReplacement() {
			return nil
		}
		return r.DeleteReplacement(ctx, a.ID)
	})
}
