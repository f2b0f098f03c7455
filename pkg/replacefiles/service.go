package replacefiles

import (
	"context"
	"io"
)

// Service is the main interface for attachment replacement operations
type Service interface {
	// Attachment operations
	CreateAttachment(ctx context.Context, req CreateAttachmentRequest) (*Attachment, error)
	GetAttachment(ctx context.Context, id int64) (*Attachment, error)
	UpdateAttachment(ctx context.Context, attachment *Attachment) error
	DeleteAttachment(ctx context.Context, id int64) error
	DownloadAttachment(ctx context.Context, id int64) (io.ReadCloser, error)
	DownloadObject(ctx context.Context, backendName, objectKey string) (io.ReadCloser, *ObjectMeta, error)
	AttachmentURL(ctx context.Context, attachment *Attachment) string

	// Meta operations
	ListMeta(ctx context.Context, attachmentID int64) ([]MetaEntry, error)
	AddMeta(ctx context.Context, attachmentID int64, key, value string) error
	CloneMeta(ctx context.Context, from, to int64, overwrite bool) error

	// Replacement operations
	UploadReplacement(ctx context.Context, req UploadReplacementRequest) (*Attachment, error)
	ListPendingReplacements(ctx context.Context, parentID int64) ([]PendingReplacement, error)
	MergeReplacement(ctx context.Context, replacementID int64) error
	DeleteReplacement(ctx context.Context, replacementID int64) error

	// Users
	GetUser(ctx context.Context, id int64) (*User, error)
	SaveUser(ctx context.Context, user *User) error

	// Single-use tokens
	IssueToken(ctx context.Context, purpose string, userID int64) (string, error)
	VerifyToken(ctx context.Context, token, purpose string, userID int64) (bool, error)
}
