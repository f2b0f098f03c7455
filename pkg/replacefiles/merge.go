package replacefiles

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// MergeReplacement folds an approved replacement into the attachment it
// replaces and deletes the replacement.
//
// The steps are not transactional. A failure before the original is saved
// leaves everything as it was; a failure later leaves the steps already done
// in place. A file copy failure is logged and does not stop the merge.
func (s *service) MergeReplacement(ctx context.Context, replacementID int64) error {
	replacement, err := s.repository.GetAttachment(ctx, replacementID)
	if err != nil {
		return &AttachmentError{AttachmentID: replacementID, Op: OpMerge, Err: err}
	}

	var original *Attachment
	if replacement.ParentID != 0 {
		original, err = s.repository.GetAttachment(ctx, replacement.ParentID)
		if err != nil && !errors.Is(err, ErrAttachmentNotFound) {
			return &AttachmentError{AttachmentID: replacementID, Op: OpMerge, Err: err}
		}
	}
	if original == nil {
		s.logger.WarnContext(ctx, "replacement has no valid parent, deleting",
			"replacement_id", replacementID, "parent_id", replacement.ParentID)
		if err := s.purge(ctx, replacement, DeleteReasonInvalidParent); err != nil {
			return err
		}
		err := &AttachmentError{AttachmentID: replacementID, Op: OpMerge, Err: ErrInvalidParent}
		s.hooks.executeOnError(ctx, OpMerge, err)
		return err
	}

	if err := s.hooks.executeBeforeMerge(ctx, original, replacement); err != nil {
		return &AttachmentError{AttachmentID: original.ID, Op: OpMerge, Err: err}
	}

	merged := original.Fields()
	merged.Overlay(replacement.Fields().Without(IdentityFields...))

	updated := *original
	if err := updated.ApplyFields(merged); err != nil {
		return &AttachmentError{AttachmentID: original.ID, Op: OpMerge, Err: err}
	}
	updated.UpdatedAt = time.Now().UTC()
	if err := s.repository.UpdateAttachment(ctx, &updated); err != nil {
		s.hooks.executeOnError(ctx, OpMerge, err)
		return &AttachmentError{AttachmentID: original.ID, Op: OpMerge, Err: err}
	}

	if err := s.copyFile(ctx, replacement, &updated); err != nil {
		s.logger.WarnContext(ctx, "unable to replace file",
			"attachment_id", updated.ID,
			"file", updated.FilePath,
			"replacement_file", replacement.FilePath,
			"replacement_id", replacement.ID,
			"error", err)
		s.hooks.executeOnError(ctx, OpCopyFile, err)
	}

	err = s.repository.DeleteMetaValue(ctx, original.ID, MetaKeyReplacementPending, strconv.FormatInt(replacement.ID, 10))
	if err != nil {
		return &AttachmentError{AttachmentID: original.ID, Op: OpMerge, Err: err}
	}

	if err := s.cloneMeta(ctx, replacement.ID, original.ID, true); err != nil {
		s.hooks.executeOnError(ctx, OpCloneMeta, err)
		return &AttachmentError{AttachmentID: original.ID, Op: OpMerge, Err: err}
	}

	if err := s.purge(ctx, replacement, DeleteReasonMerged); err != nil {
		return err
	}

	if err := s.hooks.executeAfterMerge(ctx, &updated, replacement.ID); err != nil {
		s.logger.WarnContext(ctx, "after merge hook failed", "attachment_id", updated.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "replacement merged", "attachment_id", updated.ID, "replacement_id", replacement.ID)
	return nil
}

// copyFile writes the replacement's bytes over the original's object key.
func (s *service) copyFile(ctx context.Context, replacement, original *Attachment) error {
	if replacement.FilePath == "" || original.FilePath == "" {
		return &StorageError{Backend: original.StorageBackendName, Key: original.FilePath, Op: "copy", Err: ErrObjectNotFound}
	}

	src, err := s.getBlobStore(replacement.StorageBackendName)
	if err != nil {
		return err
	}
	dst, err := s.getBlobStore(original.StorageBackendName)
	if err != nil {
		return err
	}

	if replacement.StorageBackendName == original.StorageBackendName {
		if err := dst.Copy(ctx, replacement.FilePath, original.FilePath); err != nil {
			return &StorageError{Backend: original.StorageBackendName, Key: original.FilePath, Op: "copy", Err: err}
		}
		return nil
	}

	reader, err := src.Download(ctx, replacement.FilePath)
	if err != nil {
		return &StorageError{Backend: replacement.StorageBackendName, Key: replacement.FilePath, Op: "download", Err: err}
	}
	defer reader.Close()

	params := UploadParams{ObjectKey: original.FilePath, MimeType: replacement.MimeType, AttachmentID: original.ID}
	if err := dst.UploadWithParams(ctx, reader, params); err != nil {
		return &StorageError{Backend: original.StorageBackendName, Key: original.FilePath, Op: "upload", Err: err}
	}
	return nil
}
