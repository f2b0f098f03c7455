package workflow_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/repo/memory"
	memorystorage "github.com/tendant/replace-files/pkg/replacefiles/storage/memory"
	tokenmemory "github.com/tendant/replace-files/pkg/replacefiles/token/memory"
	"github.com/tendant/replace-files/pkg/replacefiles/workflow"
)

var (
	author   = replacefiles.Caller{UserID: 7}
	editor   = replacefiles.Caller{UserID: 2, Capabilities: []replacefiles.Capability{replacefiles.CapEditAttachments}}
	approver = replacefiles.Caller{UserID: 1, Capabilities: []replacefiles.Capability{replacefiles.CapApproveAttachments}}
)

func newWorkflow(t *testing.T, status replacefiles.Status) (*workflow.Workflow, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	require.NoError(t, repo.CreateAttachment(context.Background(), &replacefiles.Attachment{
		ID: 11, ParentID: 10, AuthorID: author.UserID, Status: status,
	}))
	return workflow.New(repo), repo
}

func status(t *testing.T, repo *memory.Repository, id int64) replacefiles.Status {
	t.Helper()
	a, err := repo.GetAttachment(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name    string
		caller  replacefiles.Caller
		from    replacefiles.Status
		wantErr error
		want    replacefiles.Status
	}{
		{name: "author submits replace-pending", caller: author, from: replacefiles.StatusReplacePending, want: replacefiles.StatusPending},
		{name: "editor submits draft", caller: editor, from: replacefiles.StatusDraft, want: replacefiles.StatusPending},
		{name: "stranger", caller: replacefiles.Caller{UserID: 99}, from: replacefiles.StatusReplacePending, wantErr: replacefiles.ErrForbidden, want: replacefiles.StatusReplacePending},
		{name: "already pending", caller: author, from: replacefiles.StatusPending, wantErr: replacefiles.ErrInvalidTransition, want: replacefiles.StatusPending},
		{name: "published", caller: editor, from: replacefiles.StatusPublish, wantErr: replacefiles.ErrInvalidTransition, want: replacefiles.StatusPublish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, repo := newWorkflow(t, tt.from)
			var submitted []int64
			wf.OnSubmitted(func(ctx context.Context, a *replacefiles.Attachment) error {
				submitted = append(submitted, a.ID)
				return nil
			})

			_, err := wf.Submit(context.Background(), tt.caller, 11)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, submitted)
			} else {
				require.NoError(t, err)
				assert.Equal(t, []int64{11}, submitted)
			}
			assert.Equal(t, tt.want, status(t, repo, 11))
		})
	}
}

func TestApproveAndReject(t *testing.T) {
	ctx := context.Background()

	t.Run("approve emits approved", func(t *testing.T) {
		wf, repo := newWorkflow(t, replacefiles.StatusPending)
		var approved, rejected int
		wf.OnApproved(func(ctx context.Context, a *replacefiles.Attachment) error { approved++; return nil })
		wf.OnRejected(func(ctx context.Context, a *replacefiles.Attachment) error { rejected++; return nil })

		a, err := wf.Approve(ctx, approver, 11)
		require.NoError(t, err)
		assert.Equal(t, replacefiles.StatusPublish, a.Status)
		assert.Equal(t, replacefiles.StatusPublish, status(t, repo, 11))
		assert.Equal(t, 1, approved)
		assert.Zero(t, rejected)
	})

	t.Run("reject emits rejected", func(t *testing.T) {
		wf, repo := newWorkflow(t, replacefiles.StatusPending)
		var rejected int
		wf.OnRejected(func(ctx context.Context, a *replacefiles.Attachment) error { rejected++; return nil })

		_, err := wf.Reject(ctx, approver, 11)
		require.NoError(t, err)
		assert.Equal(t, replacefiles.StatusRejected, status(t, repo, 11))
		assert.Equal(t, 1, rejected)
	})

	t.Run("requires approve capability", func(t *testing.T) {
		wf, repo := newWorkflow(t, replacefiles.StatusPending)
		_, err := wf.Approve(ctx, editor, 11)
		assert.ErrorIs(t, err, replacefiles.ErrForbidden)
		assert.Equal(t, replacefiles.StatusPending, status(t, repo, 11))
	})

	t.Run("only pending can be decided", func(t *testing.T) {
		wf, _ := newWorkflow(t, replacefiles.StatusReplacePending)
		_, err := wf.Reject(ctx, approver, 11)
		assert.ErrorIs(t, err, replacefiles.ErrInvalidTransition)
	})

	t.Run("failed approval returns to pending", func(t *testing.T) {
		wf, repo := newWorkflow(t, replacefiles.StatusPending)
		boom := errors.New("merge failed")
		wf.OnApproved(func(ctx context.Context, a *replacefiles.Attachment) error { return boom })

		a, err := wf.Approve(ctx, approver, 11)
		assert.ErrorIs(t, err, boom)
		var decisionErr *workflow.DecisionError
		require.ErrorAs(t, err, &decisionErr)
		assert.False(t, decisionErr.Removed)
		assert.Equal(t, replacefiles.StatusPending, decisionErr.Status)
		assert.Equal(t, replacefiles.StatusPending, a.Status)
		assert.Equal(t, replacefiles.StatusPending, status(t, repo, 11))
	})

	t.Run("failed rejection returns to pending", func(t *testing.T) {
		wf, repo := newWorkflow(t, replacefiles.StatusPending)
		boom := errors.New("delete failed")
		wf.OnRejected(func(ctx context.Context, a *replacefiles.Attachment) error { return boom })

		_, err := wf.Reject(ctx, approver, 11)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, replacefiles.StatusPending, status(t, repo, 11))
	})

	t.Run("handler that removes the attachment keeps the decision", func(t *testing.T) {
		wf, repo := newWorkflow(t, replacefiles.StatusPending)
		boom := errors.New("parent gone")
		wf.OnApproved(func(ctx context.Context, a *replacefiles.Attachment) error {
			require.NoError(t, repo.DeleteAttachment(ctx, a.ID))
			return boom
		})

		_, err := wf.Approve(ctx, approver, 11)
		assert.ErrorIs(t, err, boom)
		var decisionErr *workflow.DecisionError
		require.ErrorAs(t, err, &decisionErr)
		assert.True(t, decisionErr.Removed)
		assert.Equal(t, replacefiles.StatusPublish, decisionErr.Status)
	})

	t.Run("missing attachment", func(t *testing.T) {
		wf, _ := newWorkflow(t, replacefiles.StatusPending)
		_, err := wf.Approve(ctx, approver, 404)
		assert.ErrorIs(t, err, replacefiles.ErrAttachmentNotFound)
	})
}

// The approved replacement is merged into its parent when the host wires
// OnApproved to MergeReplacement.
func TestApproveMergesThroughService(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	blobs := memorystorage.New()
	svc, err := replacefiles.New(
		replacefiles.WithRepository(repo),
		replacefiles.WithBlobStore("memory", blobs),
		replacefiles.WithTokenStore(tokenmemory.New()),
	)
	require.NoError(t, err)

	parent, err := svc.CreateAttachment(ctx, replacefiles.CreateAttachmentRequest{
		Status: replacefiles.StatusPublish, Caption: "Our logo", FileName: "logo.png", Reader: strings.NewReader("v1"),
	})
	require.NoError(t, err)

	uploader := replacefiles.Caller{UserID: 7, Capabilities: []replacefiles.Capability{replacefiles.CapUploadFiles}, Admin: true}
	token, err := svc.IssueToken(ctx, replacefiles.PurposeOverrideStatus, uploader.UserID)
	require.NoError(t, err)
	replacement, err := svc.UploadReplacement(ctx, replacefiles.UploadReplacementRequest{
		Caller: uploader, ParentID: parent.ID, Token: token, FileName: "logo-v2.png", Reader: strings.NewReader("v2"),
	})
	require.NoError(t, err)
	replacement.Caption = "New logo"
	require.NoError(t, svc.UpdateAttachment(ctx, replacement))

	wf := workflow.New(svc)
	wf.OnApproved(func(ctx context.Context, a *replacefiles.Attachment) error {
		if !a.IsReplacement() {
			return nil
		}
		return svc.MergeReplacement(ctx, a.ID)
	})

	_, err = wf.Submit(ctx, uploader, replacement.ID)
	require.NoError(t, err)
	_, err = wf.Approve(ctx, approver, replacement.ID)
	require.NoError(t, err)

	merged, err := svc.GetAttachment(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "New logo", merged.Caption)
	assert.Equal(t, replacefiles.StatusPublish, merged.Status)

	_, err = svc.GetAttachment(ctx, replacement.ID)
	assert.ErrorIs(t, err, replacefiles.ErrAttachmentNotFound)
	assert.Equal(t, []string{parent.FilePath}, blobs.Keys())
}

// A merge vetoed on the first approval leaves the replacement pending and
// listed, and approving again merges it.
func TestApproveRetriesAfterFailedMerge(t *testing.T) {
	ctx := context.Background()
	vetoes := 1
	hooks := &replacefiles.Hooks{
		BeforeMerge: []replacefiles.BeforeMergeHook{
			func(hctx *replacefiles.HookContext, original, replacement *replacefiles.Attachment) error {
				if vetoes > 0 {
					vetoes--
					return errors.New("store unavailable")
				}
				return nil
			},
		},
	}
	svc, err := replacefiles.New(
		replacefiles.WithRepository(memory.New()),
		replacefiles.WithBlobStore("memory", memorystorage.New()),
		replacefiles.WithTokenStore(tokenmemory.New()),
		replacefiles.WithHooks(hooks),
	)
	require.NoError(t, err)

	parent, err := svc.CreateAttachment(ctx, replacefiles.CreateAttachmentRequest{
		Status: replacefiles.StatusPublish, FileName: "logo.png", Reader: strings.NewReader("v1"),
	})
	require.NoError(t, err)
	uploader := replacefiles.Caller{UserID: 7, Capabilities: []replacefiles.Capability{replacefiles.CapUploadFiles}, Admin: true}
	token, err := svc.IssueToken(ctx, replacefiles.PurposeOverrideStatus, uploader.UserID)
	require.NoError(t, err)
	replacement, err := svc.UploadReplacement(ctx, replacefiles.UploadReplacementRequest{
		Caller: uploader, ParentID: parent.ID, Token: token, FileName: "logo-v2.png", Reader: strings.NewReader("v2"),
	})
	require.NoError(t, err)

	wf := workflow.New(svc)
	wf.BindReplacements(svc)
	_, err = wf.Submit(ctx, uploader, replacement.ID)
	require.NoError(t, err)

	_, err = wf.Approve(ctx, approver, replacement.ID)
	require.Error(t, err)

	got, err := svc.GetAttachment(ctx, replacement.ID)
	require.NoError(t, err)
	assert.Equal(t, replacefiles.StatusPending, got.Status)
	pending, err := svc.ListPendingReplacements(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, replacement.ID, pending[0].Attachment.ID)

	_, err = wf.Approve(ctx, approver, replacement.ID)
	require.NoError(t, err)

	_, err = svc.GetAttachment(ctx, replacement.ID)
	assert.ErrorIs(t, err, replacefiles.ErrAttachmentNotFound)
	reader, err := svc.DownloadAttachment(ctx, parent.ID)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

type replacerSpy struct {
	merged, deleted []int64
}

func (s *replacerSpy) MergeReplacement(ctx context.Context, id int64) error {
	s.merged = append(s.merged, id)
	return nil
}

func (s *replacerSpy) DeleteReplacement(ctx context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func TestBindReplacements(t *testing.T) {
	ctx := context.Background()

	wf, repo := newWorkflow(t, replacefiles.StatusPending)
	require.NoError(t, repo.CreateAttachment(ctx, &replacefiles.Attachment{ID: 12, ParentID: 10, Status: replacefiles.StatusPending}))
	require.NoError(t, repo.CreateAttachment(ctx, &replacefiles.Attachment{ID: 20, Status: replacefiles.StatusPending}))

	spy := &replacerSpy{}
	wf.BindReplacements(spy)

	_, err := wf.Approve(ctx, approver, 11)
	require.NoError(t, err)
	_, err = wf.Reject(ctx, approver, 12)
	require.NoError(t, err)
	_, err = wf.Approve(ctx, approver, 20)
	require.NoError(t, err)

	assert.Equal(t, []int64{11}, spy.merged)
	assert.Equal(t, []int64{12}, spy.deleted)
}
