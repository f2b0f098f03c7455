package replacefiles_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/repo/memory"
	memorystorage "github.com/tendant/replace-files/pkg/replacefiles/storage/memory"
	tokenmemory "github.com/tendant/replace-files/pkg/replacefiles/token/memory"
)

var uploader = replacefiles.Caller{
	UserID:       7,
	DisplayName:  "Ada",
	Capabilities: []replacefiles.Capability{replacefiles.CapUploadFiles},
	Admin:        true,
}

type fixture struct {
	svc    replacefiles.Service
	repo   *memory.Repository
	blobs  *memorystorage.Backend
	tokens *tokenmemory.Store
}

// setupService wires a service onto in-memory repository, blob and token stores
func setupService(t *testing.T, opts ...replacefiles.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.New(),
		blobs:  memorystorage.New(),
		tokens: tokenmemory.New(),
	}
	return f.build(t, f.repo, opts...)
}

func (f *fixture) build(t *testing.T, repo replacefiles.Repository, opts ...replacefiles.Option) *fixture {
	t.Helper()
	base := []replacefiles.Option{
		replacefiles.WithRepository(repo),
		replacefiles.WithBlobStore("memory", f.blobs),
		replacefiles.WithTokenStore(f.tokens),
	}
	svc, err := replacefiles.New(append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// seed stores an attachment record with a file and its attached-file meta
func (f *fixture) seed(t *testing.T, a *replacefiles.Attachment, data []byte) *replacefiles.Attachment {
	t.Helper()
	ctx := context.Background()
	if a.StorageBackendName == "" {
		a.StorageBackendName = "memory"
	}
	require.NoError(t, f.repo.CreateAttachment(ctx, a))
	if a.FilePath != "" {
		require.NoError(t, f.blobs.UploadWithParams(ctx, bytes.NewReader(data), replacefiles.UploadParams{
			ObjectKey: a.FilePath,
			MimeType:  a.MimeType,
		}))
		require.NoError(t, f.repo.AddMeta(ctx, a.ID, replacefiles.MetaKeyAttachedFile, a.FilePath))
	}
	return a
}

func (f *fixture) bytesAt(t *testing.T, key string) []byte {
	t.Helper()
	rc, err := f.blobs.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func (f *fixture) metaValues(t *testing.T, id int64, key string) []string {
	t.Helper()
	values, err := f.repo.GetMeta(context.Background(), id, key)
	require.NoError(t, err)
	return values
}

func TestNew_Requirements(t *testing.T) {
	_, err := replacefiles.New(replacefiles.WithTokenStore(tokenmemory.New()))
	assert.Error(t, err, "repository is required")

	_, err = replacefiles.New(replacefiles.WithRepository(memory.New()))
	assert.Error(t, err, "token store is required")

	_, err = replacefiles.New(
		replacefiles.WithRepository(memory.New()),
		replacefiles.WithTokenStore(tokenmemory.New()),
		replacefiles.WithBlobStore("memory", memorystorage.New()),
		replacefiles.WithDefaultStorageBackend("s3"),
	)
	assert.ErrorIs(t, err, replacefiles.ErrStorageBackendNotFound)
}

func TestCreateAttachment(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	a, err := f.svc.CreateAttachment(ctx, replacefiles.CreateAttachmentRequest{
		AuthorID: 3,
		Status:   replacefiles.StatusPublish,
		FileName: "Company Logo.png",
		MimeType: "image/png",
		Reader:   bytes.NewReader([]byte("logo bytes")),
	})
	require.NoError(t, err)

	assert.NotZero(t, a.ID)
	assert.NotEmpty(t, a.GUID)
	assert.Equal(t, "company-logo", a.Slug)
	assert.Equal(t, "Company Logo", a.Title)
	assert.Equal(t, replacefiles.StatusPublish, a.Status)
	assert.Equal(t, "memory", a.StorageBackendName)
	assert.Equal(t, []byte("logo bytes"), f.bytesAt(t, a.FilePath))
	assert.Equal(t, []string{a.FilePath}, f.metaValues(t, a.ID, replacefiles.MetaKeyAttachedFile))
}

func TestCreateAttachment_StatusAllowList(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	for _, status := range []replacefiles.Status{replacefiles.StatusReplacePending, replacefiles.StatusRejected, "bogus", ""} {
		a, err := f.svc.CreateAttachment(ctx, replacefiles.CreateAttachmentRequest{Status: status, FileName: "a.txt"})
		require.NoError(t, err)
		assert.Equal(t, replacefiles.StatusInherit, a.Status, "status %q", status)
	}
}

func TestCreateAttachment_DetectsMimeType(t *testing.T) {
	f := setupService(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	a, err := f.svc.CreateAttachment(context.Background(), replacefiles.CreateAttachmentRequest{
		FileName: "logo.png",
		Reader:   bytes.NewReader(png),
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", a.MimeType)
	assert.Equal(t, png, f.bytesAt(t, a.FilePath))
}

func TestDeleteAttachment_RemovesFile(t *testing.T) {
	f := setupService(t)
	a := f.seed(t, &replacefiles.Attachment{ID: 1, FilePath: "uploads/a.txt"}, []byte("x"))

	require.NoError(t, f.svc.DeleteAttachment(context.Background(), a.ID))

	_, err := f.repo.GetAttachment(context.Background(), a.ID)
	assert.ErrorIs(t, err, replacefiles.ErrAttachmentNotFound)
	assert.Empty(t, f.blobs.Keys())
}

func TestAttachmentURL_FallsBackToFilePrefix(t *testing.T) {
	f := setupService(t, replacefiles.WithFileURLPrefix("/media/"))
	a := &replacefiles.Attachment{FilePath: "uploads/a.png", StorageBackendName: "memory"}

	assert.Equal(t, "/media/memory/uploads/a.png", f.svc.AttachmentURL(context.Background(), a))
	assert.Empty(t, f.svc.AttachmentURL(context.Background(), &replacefiles.Attachment{}))
}

func TestUploadReplacement(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	parent := f.seed(t, &replacefiles.Attachment{
		ID: 10, GUID: "guid-10", Slug: "logo", AuthorID: 1, Status: replacefiles.StatusPublish,
		Title: "logo", Caption: "Our logo", AltText: "Logo", MimeType: "image/png",
		FilePath: "uploads/2026/10/10/logo.png",
	}, []byte("v1"))
	require.NoError(t, f.repo.AddMeta(ctx, parent.ID, "credit", "Design team"))

	token, err := f.svc.IssueToken(ctx, replacefiles.PurposeOverrideStatus, uploader.UserID)
	require.NoError(t, err)

	replacement, err := f.svc.UploadReplacement(ctx, replacefiles.UploadReplacementRequest{
		Caller:   uploader,
		ParentID: parent.ID,
		Token:    token,
		FileName: "logo-v2.png",
		MimeType: "image/png",
		Reader:   bytes.NewReader([]byte("v2")),
	})
	require.NoError(t, err)

	assert.NotEqual(t, parent.ID, replacement.ID)
	assert.Equal(t, parent.ID, replacement.ParentID)
	assert.Equal(t, uploader.UserID, replacement.AuthorID)
	assert.Equal(t, replacefiles.StatusReplacePending, replacement.Status)
	assert.NotEqual(t, parent.GUID, replacement.GUID)
	assert.Equal(t, "logo-v2", replacement.Slug)
	// Descriptive fields are inherited from the parent
	assert.Equal(t, "logo", replacement.Title)
	assert.Equal(t, "Our logo", replacement.Caption)
	assert.Equal(t, "Logo", replacement.AltText)

	assert.NotEqual(t, parent.FilePath, replacement.FilePath)
	assert.Equal(t, []byte("v2"), f.bytesAt(t, replacement.FilePath))
	assert.Equal(t, []byte("v1"), f.bytesAt(t, parent.FilePath))

	// Parent meta is cloned, the file mirror and bookkeeping are not
	assert.Equal(t, []string{"Design team"}, f.metaValues(t, replacement.ID, "credit"))
	assert.Equal(t, []string{replacement.FilePath}, f.metaValues(t, replacement.ID, replacefiles.MetaKeyAttachedFile))
	assert.Empty(t, f.metaValues(t, replacement.ID, replacefiles.MetaKeyReplacementPending))

	assert.Equal(t, []string{"11"}, f.metaValues(t, parent.ID, replacefiles.MetaKeyReplacementPending))
}

func TestUploadReplacement_Rejected(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  replacefiles.Caller
		token   func(f *fixture) string
		parent  int64
		wantErr error
	}{
		{
			name:    "missing capability",
			caller:  replacefiles.Caller{UserID: 7, Admin: true},
			token:   func(f *fixture) string { return "" },
			parent:  10,
			wantErr: replacefiles.ErrForbidden,
		},
		{
			name:    "missing parent",
			caller:  uploader,
			token:   func(f *fixture) string { return "" },
			parent:  404,
			wantErr: replacefiles.ErrAttachmentNotFound,
		},
		{
			name:    "no token",
			caller:  uploader,
			token:   func(f *fixture) string { return "" },
			parent:  10,
			wantErr: replacefiles.ErrInvalidToken,
		},
		{
			name:   "token for another purpose",
			caller: uploader,
			token: func(f *fixture) string {
				tok, _ := f.svc.IssueToken(ctx, replacefiles.PurposeSubmitApproval, uploader.UserID)
				return tok
			},
			parent:  10,
			wantErr: replacefiles.ErrInvalidToken,
		},
		{
			name:   "outside admin context",
			caller: replacefiles.Caller{UserID: 7, Capabilities: uploader.Capabilities},
			token: func(f *fixture) string {
				tok, _ := f.svc.IssueToken(ctx, replacefiles.PurposeOverrideStatus, uploader.UserID)
				return tok
			},
			parent:  10,
			wantErr: replacefiles.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t)
			f.seed(t, &replacefiles.Attachment{ID: 10, Status: replacefiles.StatusPublish, FilePath: "logo.png"}, []byte("v1"))

			_, err := f.svc.UploadReplacement(ctx, replacefiles.UploadReplacementRequest{
				Caller:   tt.caller,
				ParentID: tt.parent,
				Token:    tt.token(f),
				FileName: "logo-v2.png",
				Reader:   bytes.NewReader([]byte("v2")),
			})
			assert.ErrorIs(t, err, tt.wantErr)

			children, err := f.repo.ListChildren(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, children)
			assert.Len(t, f.blobs.Keys(), 1)
		})
	}
}

func TestListPendingReplacements(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SaveUser(ctx, &replacefiles.User{ID: 7, DisplayName: "Ada"}))

	now := time.Now()
	f.seed(t, &replacefiles.Attachment{ID: 10, Status: replacefiles.StatusPublish}, nil)
	f.seed(t, &replacefiles.Attachment{ID: 11, ParentID: 10, AuthorID: 7, Status: replacefiles.StatusPending, FilePath: "r/11.png", CreatedAt: now}, []byte("a"))
	f.seed(t, &replacefiles.Attachment{ID: 12, ParentID: 10, AuthorID: 99, Status: replacefiles.StatusReplacePending, CreatedAt: now.Add(-time.Hour)}, nil)
	f.seed(t, &replacefiles.Attachment{ID: 13, ParentID: 10, Status: replacefiles.StatusRejected}, nil)

	pending, err := f.svc.ListPendingReplacements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	assert.Equal(t, int64(11), pending[0].Attachment.ID)
	assert.Equal(t, "Ada", pending[0].Uploader)
	assert.Equal(t, "/files/memory/r/11.png", pending[0].URL)

	assert.Equal(t, int64(12), pending[1].Attachment.ID)
	assert.Equal(t, "Unknown", pending[1].Uploader)
}

func TestDeleteReplacement(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.seed(t, &replacefiles.Attachment{ID: 10, Status: replacefiles.StatusPublish}, nil)
	f.seed(t, &replacefiles.Attachment{ID: 11, ParentID: 10, Status: replacefiles.StatusRejected, FilePath: "r/11.png"}, []byte("x"))
	require.NoError(t, f.repo.AddMeta(ctx, 10, replacefiles.MetaKeyReplacementPending, "11"))
	require.NoError(t, f.repo.AddMeta(ctx, 10, replacefiles.MetaKeyReplacementPending, "12"))

	require.NoError(t, f.svc.DeleteReplacement(ctx, 11))

	_, err := f.repo.GetAttachment(ctx, 11)
	assert.ErrorIs(t, err, replacefiles.ErrAttachmentNotFound)
	assert.Empty(t, f.blobs.Keys())
	assert.Equal(t, []string{"12"}, f.metaValues(t, 10, replacefiles.MetaKeyReplacementPending))

	err = f.svc.DeleteReplacement(ctx, 10)
	assert.ErrorIs(t, err, replacefiles.ErrNotReplacement)
}

func TestServiceErrors_AreTyped(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.GetAttachment(context.Background(), 404)
	var attErr *replacefiles.AttachmentError
	require.True(t, errors.As(err, &attErr))
	assert.Equal(t, int64(404), attErr.AttachmentID)
	assert.Equal(t, "get", attErr.Op)
	assert.ErrorIs(t, err, replacefiles.ErrAttachmentNotFound)
}
