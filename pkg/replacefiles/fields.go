package replacefiles

import (
	"fmt"
	"strconv"
)

// Field names used in a FieldSet
const (
	FieldID             = "id"
	FieldGUID           = "guid"
	FieldSlug           = "slug"
	FieldAuthor         = "author"
	FieldParent         = "parent"
	FieldStatus         = "status"
	FieldFile           = "file"
	FieldStorageBackend = "storage_backend"
	FieldMimeType       = "mime_type"
	FieldTitle          = "title"
	FieldCaption        = "caption"
	FieldDescription    = "description"
	FieldAltText        = "alt_text"
)

// IdentityFields are never carried from a replacement onto its original.
// The storage backend travels with the file path.
var IdentityFields = []string{
	FieldID, FieldGUID, FieldSlug, FieldAuthor, FieldParent, FieldStatus, FieldFile, FieldStorageBackend,
}

// inheritedExcludedFields are not copied from a parent when a replacement is created.
var inheritedExcludedFields = []string{
	FieldID, FieldGUID, FieldSlug, FieldAuthor, FieldParent,
}

// FieldSet is a mutable, string-keyed view of an attachment's columns
type FieldSet map[string]string

// Fields returns the attachment as a FieldSet
func (a *Attachment) Fields() FieldSet {
	return FieldSet{
		FieldID:             formatID(a.ID),
		FieldGUID:           a.GUID,
		FieldSlug:           a.Slug,
		FieldAuthor:         formatID(a.AuthorID),
		FieldParent:         formatID(a.ParentID),
		FieldStatus:         string(a.Status),
		FieldFile:           a.FilePath,
		FieldStorageBackend: a.StorageBackendName,
		FieldMimeType:       a.MimeType,
		FieldTitle:          a.Title,
		FieldCaption:        a.Caption,
		FieldDescription:    a.Description,
		FieldAltText:        a.AltText,
	}
}

// ApplyFields writes every field present in fs onto the attachment.
// Unknown keys are ignored.
func (a *Attachment) ApplyFields(fs FieldSet) error {
	for key, value := range fs {
		switch key {
		case FieldID:
			id, err := parseID(key, value)
			if err != nil {
				return err
			}
			a.ID = id
		case FieldAuthor:
			id, err := parseID(key, value)
			if err != nil {
				return err
			}
			a.AuthorID = id
		case FieldParent:
			id, err := parseID(key, value)
			if err != nil {
				return err
			}
			a.ParentID = id
		case FieldGUID:
			a.GUID = value
		case FieldSlug:
			a.Slug = value
		case FieldStatus:
			a.Status = Status(value)
		case FieldFile:
			a.FilePath = value
		case FieldStorageBackend:
			a.StorageBackendName = value
		case FieldMimeType:
			a.MimeType = value
		case FieldTitle:
			a.Title = value
		case FieldCaption:
			a.Caption = value
		case FieldDescription:
			a.Description = value
		case FieldAltText:
			a.AltText = value
		}
	}
	return nil
}

// Clone returns a copy of the field set
func (fs FieldSet) Clone() FieldSet {
	out := make(FieldSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}

// Without returns a copy of the field set with keys removed
func (fs FieldSet) Without(keys ...string) FieldSet {
	out := fs.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Overlay copies every non-empty value of src into fs
func (fs FieldSet) Overlay(src FieldSet) {
	for k, v := range src {
		if v == "" {
			continue
		}
		fs[k] = v
	}
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func parseID(key, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidField, key, value)
	}
	return id, nil
}
