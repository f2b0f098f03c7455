package replacefiles

import (
	"context"
	"fmt"
)

// CloneMeta copies the meta entries of from onto to, skipping the deny-list.
// With overwrite, existing entries of to under a copied key are removed first.
// Otherwise values are appended next to them.
func (s *service) CloneMeta(ctx context.Context, from, to int64, overwrite bool) error {
	if err := s.cloneMeta(ctx, from, to, overwrite); err != nil {
		s.hooks.executeOnError(ctx, OpCloneMeta, err)
		return err
	}
	return nil
}

func (s *service) cloneMeta(ctx context.Context, from, to int64, overwrite bool, extraExcluded ...string) error {
	if _, err := s.repository.GetAttachment(ctx, from); err != nil {
		return &AttachmentError{AttachmentID: from, Op: OpCloneMeta, Err: fmt.Errorf("%w: %w", ErrInvalidSource, err)}
	}
	if _, err := s.repository.GetAttachment(ctx, to); err != nil {
		return &AttachmentError{AttachmentID: to, Op: OpCloneMeta, Err: fmt.Errorf("%w: %w", ErrInvalidTarget, err)}
	}

	entries, err := s.repository.ListMeta(ctx, from)
	if err != nil {
		return &AttachmentError{AttachmentID: from, Op: OpCloneMeta, Err: err}
	}

	excluded := make(map[string]bool)
	for _, key := range s.excludedKeys(ctx, extraExcluded) {
		excluded[key] = true
	}

	// Group values by key, keeping the order keys first appear in.
	var keys []string
	values := make(map[string][]string)
	for _, entry := range entries {
		if excluded[entry.Key] {
			continue
		}
		if _, seen := values[entry.Key]; !seen {
			keys = append(keys, entry.Key)
		}
		values[entry.Key] = append(values[entry.Key], entry.Value)
	}
	if len(keys) == 0 {
		return nil
	}

	existing := make(map[string]bool)
	if overwrite {
		current, err := s.repository.ListMeta(ctx, to)
		if err != nil {
			return &AttachmentError{AttachmentID: to, Op: OpCloneMeta, Err: err}
		}
		for _, entry := range current {
			existing[entry.Key] = true
		}
	}

	for _, key := range keys {
		if overwrite && existing[key] {
			if err := s.repository.DeleteMeta(ctx, to, key); err != nil {
				return &MetaWriteError{AttachmentID: to, Key: key, Err: err}
			}
		}
		for _, value := range values[key] {
			if err := s.repository.AddMeta(ctx, to, key, value); err != nil {
				return &MetaWriteError{AttachmentID: to, Key: key, Value: value, Err: err}
			}
		}
	}
	return nil
}

// excludedKeys returns the configured deny-list extended by extra and by hooks.
func (s *service) excludedKeys(ctx context.Context, extra []string) []string {
	keys := make([]string, 0, len(s.excludedMetaKeys)+len(extra))
	keys = append(keys, s.excludedMetaKeys...)
	keys = append(keys, extra...)
	return s.hooks.executeExcludeMetaKeys(ctx, keys)
}
