package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/tendant/replace-files/pkg/replacefiles"
)

// Repository implements replacefiles.Repository using in-memory storage
type Repository struct {
	mu          sync.RWMutex
	attachments map[int64]*replacefiles.Attachment
	meta        map[int64][]replacefiles.MetaEntry // attachment_id -> entries ordered by id
	users       map[int64]*replacefiles.User
	nextID      int64
	nextMetaID  int64
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		attachments: make(map[int64]*replacefiles.Attachment),
		meta:        make(map[int64][]replacefiles.MetaEntry),
		users:       make(map[int64]*replacefiles.User),
	}
}

// Attachment operations

func (r *Repository) CreateAttachment(ctx context.Context, attachment *replacefiles.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if attachment.ID == 0 {
		r.nextID++
		for r.attachments[r.nextID] != nil {
			r.nextID++
		}
		attachment.ID = r.nextID
	} else if _, exists := r.attachments[attachment.ID]; exists {
		return replacefiles.ErrAttachmentExists
	} else if attachment.ID > r.nextID {
		r.nextID = attachment.ID
	}

	// Create a copy to avoid external modifications
	attachmentCopy := *attachment
	r.attachments[attachment.ID] = &attachmentCopy
	return nil
}

func (r *Repository) GetAttachment(ctx context.Context, id int64) (*replacefiles.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attachment, exists := r.attachments[id]
	if !exists {
		return nil, replacefiles.ErrAttachmentNotFound
	}

	// Return a copy to prevent external modifications
	attachmentCopy := *attachment
	return &attachmentCopy, nil
}

func (r *Repository) UpdateAttachment(ctx context.Context, attachment *replacefiles.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attachments[attachment.ID]; !exists {
		return replacefiles.ErrAttachmentNotFound
	}

	attachmentCopy := *attachment
	r.attachments[attachment.ID] = &attachmentCopy
	return nil
}

func (r *Repository) DeleteAttachment(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attachments[id]; !exists {
		return replacefiles.ErrAttachmentNotFound
	}

	delete(r.attachments, id)
	delete(r.meta, id)
	return nil
}

func (r *Repository) ListChildren(ctx context.Context, parentID int64, statuses ...replacefiles.Status) ([]*replacefiles.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var children []*replacefiles.Attachment
	for _, attachment := range r.attachments {
		if attachment.ParentID != parentID || parentID == 0 {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, attachment.Status) {
			continue
		}
		attachmentCopy := *attachment
		children = append(children, &attachmentCopy)
	}

	// Newest first, like the admin list
	sort.Slice(children, func(i, j int) bool {
		if children[i].CreatedAt.Equal(children[j].CreatedAt) {
			return children[i].ID > children[j].ID
		}
		return children[i].CreatedAt.After(children[j].CreatedAt)
	})
	return children, nil
}

// Meta operations

func (r *Repository) ListMeta(ctx context.Context, attachmentID int64) ([]replacefiles.MetaEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.attachments[attachmentID]; !exists {
		return nil, replacefiles.ErrAttachmentNotFound
	}
	return slices.Clone(r.meta[attachmentID]), nil
}

func (r *Repository) GetMeta(ctx context.Context, attachmentID int64, key string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.attachments[attachmentID]; !exists {
		return nil, replacefiles.ErrAttachmentNotFound
	}

	var values []string
	for _, entry := range r.meta[attachmentID] {
		if entry.Key == key {
			values = append(values, entry.Value)
		}
	}
	return values, nil
}

func (r *Repository) AddMeta(ctx context.Context, attachmentID int64, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attachments[attachmentID]; !exists {
		return replacefiles.ErrAttachmentNotFound
	}

	r.nextMetaID++
	r.meta[attachmentID] = append(r.meta[attachmentID], replacefiles.MetaEntry{
		ID:           r.nextMetaID,
		AttachmentID: attachmentID,
		Key:          key,
		Value:        value,
	})
	return nil
}

func (r *Repository) DeleteMeta(ctx context.Context, attachmentID int64, key string) error {
	return r.deleteMeta(attachmentID, func(entry replacefiles.MetaEntry) bool {
		return entry.Key == key
	})
}

func (r *Repository) DeleteMetaValue(ctx context.Context, attachmentID int64, key, value string) error {
	return r.deleteMeta(attachmentID, func(entry replacefiles.MetaEntry) bool {
		return entry.Key == key && entry.Value == value
	})
}

func (r *Repository) deleteMeta(attachmentID int64, match func(replacefiles.MetaEntry) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attachments[attachmentID]; !exists {
		return replacefiles.ErrAttachmentNotFound
	}
	r.meta[attachmentID] = slices.DeleteFunc(r.meta[attachmentID], match)
	return nil
}

// User operations

func (r *Repository) GetUser(ctx context.Context, id int64) (*replacefiles.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, replacefiles.ErrUserNotFound
	}
	userCopy := *user
	userCopy.Capabilities = slices.Clone(user.Capabilities)
	return &userCopy, nil
}

func (r *Repository) SaveUser(ctx context.Context, user *replacefiles.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	userCopy := *user
	userCopy.Capabilities = slices.Clone(user.Capabilities)
	r.users[user.ID] = &userCopy
	return nil
}
