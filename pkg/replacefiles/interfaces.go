package replacefiles

import (
	"context"
	"io"
	"time"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Copy overwrites dstKey with the bytes stored at srcKey
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// GetPreviewURL returns a URL for previewing content
	GetPreviewURL(ctx context.Context, objectKey string) (string, error)
}

// Repository defines the interface for attachment, meta and user persistence
type Repository interface {
	// Attachment operations. CreateAttachment assigns ID when it is zero.
	CreateAttachment(ctx context.Context, attachment *Attachment) error
	GetAttachment(ctx context.Context, id int64) (*Attachment, error)
	UpdateAttachment(ctx context.Context, attachment *Attachment) error
	// DeleteAttachment removes the record and all of its meta permanently.
	DeleteAttachment(ctx context.Context, id int64) error
	ListChildren(ctx context.Context, parentID int64, statuses ...Status) ([]*Attachment, error)

	// Meta operations
	ListMeta(ctx context.Context, attachmentID int64) ([]MetaEntry, error)
	GetMeta(ctx context.Context, attachmentID int64, key string) ([]string, error)
	AddMeta(ctx context.Context, attachmentID int64, key, value string) error
	DeleteMeta(ctx context.Context, attachmentID int64, key string) error
	DeleteMetaValue(ctx context.Context, attachmentID int64, key, value string) error

	// User operations
	GetUser(ctx context.Context, id int64) (*User, error)
	SaveUser(ctx context.Context, user *User) error
}

// TokenStore keeps single-use tokens until they are consumed or expire
type TokenStore interface {
	// Put stores token with the binding it was issued for
	Put(ctx context.Context, token, binding string, ttl time.Duration) error

	// Consume removes token and returns its binding. Unknown or expired
	// tokens return ErrTokenNotFound.
	Consume(ctx context.Context, token string) (string, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
	Metadata    map[string]string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
	// AttachmentID is recorded with the object by backends that keep object metadata
	AttachmentID int64
}
