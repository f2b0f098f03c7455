package replacefiles

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrAttachmentNotFound indicates an attachment was not found
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrAttachmentExists indicates an attachment with the same id already exists
	ErrAttachmentExists = errors.New("attachment already exists")

	// ErrUserNotFound indicates a user was not found
	ErrUserNotFound = errors.New("user not found")

	// ErrObjectNotFound indicates a blob was not found in a storage backend
	ErrObjectNotFound = errors.New("object not found")

	// ErrStorageBackendNotFound indicates a storage backend was not found
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrInvalidParent indicates a replacement has no parent or its parent is gone
	ErrInvalidParent = errors.New("replacement has no valid parent")

	// ErrNotReplacement indicates an attachment was expected to be a replacement
	ErrNotReplacement = errors.New("attachment is not a replacement")

	// ErrInvalidSource indicates the source of a meta clone does not exist
	ErrInvalidSource = errors.New("invalid clone source")

	// ErrInvalidTarget indicates the target of a meta clone does not exist
	ErrInvalidTarget = errors.New("invalid clone target")

	// ErrInvalidToken indicates a single-use token was missing, spent or for another purpose
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrTokenNotFound is returned by token stores when a token does not exist
	ErrTokenNotFound = errors.New("token not found")

	// ErrForbidden indicates the caller lacks the capability for an operation
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidField indicates a field set carries a value that cannot be applied
	ErrInvalidField = errors.New("invalid field value")

	// ErrInvalidTransition indicates a workflow step is not allowed from the current status
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUploadFailed indicates an upload operation failed
	ErrUploadFailed = errors.New("upload failed")
)

// AttachmentError represents an error related to attachment operations
type AttachmentError struct {
	AttachmentID int64
	Op           string
	Err          error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment operation %s failed for attachment %d: %v", e.Op, e.AttachmentID, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// MetaWriteError is returned when cloning stops on a failed meta write.
// Writes made before the failure are kept.
type MetaWriteError struct {
	AttachmentID int64
	Key          string
	Value        string
	Err          error
}

func (e *MetaWriteError) Error() string {
	return fmt.Sprintf("failed to write meta %q on attachment %d: %v", e.Key, e.AttachmentID, e.Err)
}

func (e *MetaWriteError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
