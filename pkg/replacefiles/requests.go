package replacefiles

import "io"

// Request/Response DTOs

// CreateAttachmentRequest contains parameters for inserting an attachment
// through the generic path. Status is subject to the insert allow-list.
type CreateAttachmentRequest struct {
	AuthorID           int64
	ParentID           int64
	Status             Status
	Title              string
	Caption            string
	Description        string
	AltText            string
	FileName           string
	MimeType           string
	StorageBackendName string
	Reader             io.Reader
}

// UploadReplacementRequest contains parameters for uploading a replacement file
type UploadReplacementRequest struct {
	Caller   Caller
	ParentID int64
	// Token must be a single-use token issued for PurposeOverrideStatus.
	Token              string
	FileName           string
	MimeType           string
	StorageBackendName string
	Reader             io.Reader
}

// PendingReplacement is a replacement waiting under its original, with the
// details the admin screen shows.
type PendingReplacement struct {
	Attachment *Attachment
	Uploader   string
	URL        string
}
