package replacefiles

import (
	"path"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of an attachment record
type Status string

const (
	StatusPublish        Status = "publish"
	StatusInherit        Status = "inherit"
	StatusDraft          Status = "draft"
	StatusPrivate        Status = "private"
	StatusReplacePending Status = "replace-pending"
	StatusPending        Status = "pending"
	StatusRejected       Status = "rejected"
)

// Reserved meta keys
const (
	// MetaKeyAttachedFile mirrors the attachment's object key. It is never cloned.
	MetaKeyAttachedFile = "_attached_file"
	// MetaKeyReplacementPending is set on an original for every outstanding replacement.
	MetaKeyReplacementPending = "_replacement_pending"
)

// Capability names a permission carried by a user
type Capability string

const (
	CapUploadFiles        Capability = "upload_files"
	CapEditAttachments    Capability = "edit_attachments"
	CapApproveAttachments Capability = "approve_attachments"
	CapPreviewAttachments Capability = "preview_attachments"
)

// Attachment is a media record. A replacement is an attachment whose
// ParentID points at the attachment it replaces.
type Attachment struct {
	ID                 int64     `json:"id"`
	GUID               string    `json:"guid"`
	Slug               string    `json:"slug"`
	AuthorID           int64     `json:"author_id"`
	ParentID           int64     `json:"parent_id,omitempty"`
	Status             Status    `json:"status"`
	MimeType           string    `json:"mime_type"`
	Title              string    `json:"title"`
	Caption            string    `json:"caption,omitempty"`
	Description        string    `json:"description,omitempty"`
	AltText            string    `json:"alt_text,omitempty"`
	FilePath           string    `json:"file_path"`
	StorageBackendName string    `json:"storage_backend_name"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// FileName returns the base name of the attachment's object key
func (a *Attachment) FileName() string {
	if a.FilePath == "" {
		return ""
	}
	return path.Base(a.FilePath)
}

// IsImage reports whether the attachment holds an image
func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// IsReplacement reports whether the attachment replaces another one
func (a *Attachment) IsReplacement() bool {
	return a.ParentID != 0
}

// MetaEntry is a single key/value pair attached to an attachment.
// Keys are not unique; entries are ordered by ID.
type MetaEntry struct {
	ID           int64  `json:"id"`
	AttachmentID int64  `json:"attachment_id"`
	Key          string `json:"key"`
	Value        string `json:"value"`
}

// User is a known uploader
type User struct {
	ID           int64        `json:"id"`
	DisplayName  string       `json:"display_name"`
	Capabilities []Capability `json:"capabilities"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Caller identifies who is making a request and in which context
type Caller struct {
	UserID       int64
	DisplayName  string
	Capabilities []Capability
	// Admin is true when the request came through the admin surface.
	Admin bool
}

// Can reports whether the caller holds the capability
func (c Caller) Can(capability Capability) bool {
	return slices.Contains(c.Capabilities, capability)
}
