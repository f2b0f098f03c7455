package replacefiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/tendant/replace-files/pkg/replacefiles/objectkey"
)

// DefaultExcludedMetaKeys are never copied by CloneMeta
var DefaultExcludedMetaKeys = []string{MetaKeyAttachedFile}

// service implements the Service interface
type service struct {
	repository       Repository
	blobStores       map[string]BlobStore
	defaultBackend   string
	tokenStore       TokenStore
	tokenTTL         time.Duration
	tokens           *Tokens
	override         *StatusOverride
	keyGenerator     objectkey.Generator
	excludedMetaKeys []string
	fileURLPrefix    string
	hooks            *Hooks
	logger           *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore adds a blob storage backend
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		if s.blobStores == nil {
			s.blobStores = make(map[string]BlobStore)
		}
		s.blobStores[name] = store
	}
}

// WithDefaultStorageBackend selects the backend new files are written to
func WithDefaultStorageBackend(name string) Option {
	return func(s *service) {
		s.defaultBackend = name
	}
}

// WithTokenStore sets where single-use tokens are kept
func WithTokenStore(store TokenStore) Option {
	return func(s *service) {
		s.tokenStore = store
	}
}

// WithTokenTTL sets how long an issued token stays valid
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.tokenTTL = ttl
	}
}

// WithKeyGenerator sets the object key strategy for uploaded files
func WithKeyGenerator(generator objectkey.Generator) Option {
	return func(s *service) {
		s.keyGenerator = generator
	}
}

// WithExcludedMetaKeys replaces the default CloneMeta deny-list
func WithExcludedMetaKeys(keys ...string) Option {
	return func(s *service) {
		s.excludedMetaKeys = append([]string(nil), keys...)
	}
}

// WithFileURLPrefix sets the URL prefix used for files whose backend cannot
// produce a preview URL itself
func WithFileURLPrefix(prefix string) Option {
	return func(s *service) {
		s.fileURLPrefix = strings.TrimRight(prefix, "/")
	}
}

// WithHooks registers lifecycle hooks. It can be given more than once.
func WithHooks(hooks *Hooks) Option {
	return func(s *service) {
		s.hooks.Merge(hooks)
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		blobStores:       make(map[string]BlobStore),
		excludedMetaKeys: append([]string(nil), DefaultExcludedMetaKeys...),
		fileURLPrefix:    "/files",
		hooks:            &Hooks{},
		logger:           slog.Default(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if s.defaultBackend == "" && len(s.blobStores) == 1 {
		for name := range s.blobStores {
			s.defaultBackend = name
		}
	}
	if s.defaultBackend != "" {
		if _, ok := s.blobStores[s.defaultBackend]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrStorageBackendNotFound, s.defaultBackend)
		}
	}
	if s.keyGenerator == nil {
		s.keyGenerator = objectkey.NewRecommendedGenerator()
	}

	s.tokens = NewTokens(s.tokenStore, s.tokenTTL)
	s.override = NewStatusOverride(s.tokens, s.logger)

	return s, nil
}

// Attachment operations

func (s *service) CreateAttachment(ctx context.Context, req CreateAttachmentRequest) (*Attachment, error) {
	fields := NormalizeInsertStatus(FieldSet{
		FieldStatus:      string(req.Status),
		FieldTitle:       req.Title,
		FieldCaption:     req.Caption,
		FieldDescription: req.Description,
		FieldAltText:     req.AltText,
		FieldMimeType:    req.MimeType,
	})

	attachment := &Attachment{
		AuthorID: req.AuthorID,
		ParentID: req.ParentID,
	}
	if err := attachment.ApplyFields(fields); err != nil {
		return nil, err
	}
	if attachment.Title == "" {
		attachment.Title = titleFromFileName(req.FileName)
	}

	if _, err := s.insert(ctx, attachment, req.StorageBackendName, req.FileName, req.Reader); err != nil {
		return nil, err
	}
	return attachment, nil
}

// insert stores a new attachment record and its file. The record is removed
// again when the file cannot be stored.
func (s *service) insert(ctx context.Context, attachment *Attachment, backendName, fileName string, reader io.Reader) (int64, error) {
	if backendName == "" {
		backendName = s.defaultBackend
	}
	store, err := s.getBlobStore(backendName)
	if err != nil {
		return 0, err
	}

	var mimeType string
	if reader != nil {
		reader, mimeType, err = detectMimeType(reader)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
	}
	if attachment.MimeType == "" {
		attachment.MimeType = mimeType
	}

	now := time.Now().UTC()
	attachment.GUID = uuid.NewString()
	attachment.Slug = slugify(fileName)
	attachment.StorageBackendName = backendName
	attachment.CreatedAt = now
	attachment.UpdatedAt = now

	if err := s.repository.CreateAttachment(ctx, attachment); err != nil {
		return 0, &AttachmentError{AttachmentID: attachment.ID, Op: "create", Err: err}
	}

	if reader == nil {
		return 0, nil
	}

	objectKey := s.keyGenerator.GenerateKey(attachment.ID, &objectkey.KeyMetadata{
		FileName:    fileName,
		ContentType: attachment.MimeType,
		ParentID:    attachment.ParentID,
		UploadedAt:  now,
	})

	counter := &countingReader{r: reader}
	if err := store.UploadWithParams(ctx, counter, UploadParams{ObjectKey: objectKey, MimeType: attachment.MimeType, AttachmentID: attachment.ID}); err != nil {
		if delErr := s.repository.DeleteAttachment(ctx, attachment.ID); delErr != nil {
			s.logger.WarnContext(ctx, "failed to remove attachment after upload error", "attachment_id", attachment.ID, "error", delErr)
		}
		return 0, &StorageError{Backend: backendName, Key: objectKey, Op: "upload", Err: errors.Join(ErrUploadFailed, err)}
	}

	attachment.FilePath = objectKey
	if err := s.repository.UpdateAttachment(ctx, attachment); err != nil {
		return 0, &AttachmentError{AttachmentID: attachment.ID, Op: "update", Err: err}
	}
	if err := s.repository.AddMeta(ctx, attachment.ID, MetaKeyAttachedFile, objectKey); err != nil {
		return 0, &AttachmentError{AttachmentID: attachment.ID, Op: "add_meta", Err: err}
	}

	return counter.n, nil
}

func (s *service) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	attachment, err := s.repository.GetAttachment(ctx, id)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: id, Op: "get", Err: err}
	}
	return attachment, nil
}

func (s *service) UpdateAttachment(ctx context.Context, attachment *Attachment) error {
	attachment.UpdatedAt = time.Now().UTC()
	if err := s.repository.UpdateAttachment(ctx, attachment); err != nil {
		return &AttachmentError{AttachmentID: attachment.ID, Op: "update", Err: err}
	}
	return nil
}

func (s *service) DeleteAttachment(ctx context.Context, id int64) error {
	attachment, err := s.repository.GetAttachment(ctx, id)
	if err != nil {
		return &AttachmentError{AttachmentID: id, Op: "delete", Err: err}
	}
	return s.purge(ctx, attachment, DeleteReasonRequested)
}

// purge permanently deletes an attachment record, its meta and its file.
// A file that cannot be removed is logged and left behind.
func (s *service) purge(ctx context.Context, attachment *Attachment, reason string) error {
	if err := s.repository.DeleteAttachment(ctx, attachment.ID); err != nil {
		s.hooks.executeOnError(ctx, OpDelete, err)
		return &AttachmentError{AttachmentID: attachment.ID, Op: "delete", Err: err}
	}

	if attachment.FilePath != "" {
		if store, err := s.getBlobStore(attachment.StorageBackendName); err != nil {
			s.logger.WarnContext(ctx, "cannot delete file of attachment", "attachment_id", attachment.ID, "error", err)
		} else if err := store.Delete(ctx, attachment.FilePath); err != nil && !errors.Is(err, ErrObjectNotFound) {
			s.logger.WarnContext(ctx, "cannot delete file of attachment",
				"attachment_id", attachment.ID, "file", attachment.FilePath, "error", err)
		}
	}

	if err := s.hooks.executeAfterDelete(ctx, attachment, reason); err != nil {
		s.logger.WarnContext(ctx, "after delete hook failed", "attachment_id", attachment.ID, "error", err)
	}
	return nil
}

func (s *service) DownloadAttachment(ctx context.Context, id int64) (io.ReadCloser, error) {
	attachment, err := s.repository.GetAttachment(ctx, id)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: id, Op: "download", Err: err}
	}
	if attachment.FilePath == "" {
		return nil, &AttachmentError{AttachmentID: id, Op: "download", Err: ErrObjectNotFound}
	}
	store, err := s.getBlobStore(attachment.StorageBackendName)
	if err != nil {
		return nil, err
	}
	reader, err := store.Download(ctx, attachment.FilePath)
	if err != nil {
		return nil, &StorageError{Backend: attachment.StorageBackendName, Key: attachment.FilePath, Op: "download", Err: err}
	}
	return reader, nil
}

func (s *service) DownloadObject(ctx context.Context, backendName, objectKey string) (io.ReadCloser, *ObjectMeta, error) {
	if backendName == "" {
		backendName = s.defaultBackend
	}
	store, err := s.getBlobStore(backendName)
	if err != nil {
		return nil, nil, err
	}
	meta, err := store.GetObjectMeta(ctx, objectKey)
	if err != nil {
		return nil, nil, &StorageError{Backend: backendName, Key: objectKey, Op: "stat", Err: err}
	}
	reader, err := store.Download(ctx, objectKey)
	if err != nil {
		return nil, nil, &StorageError{Backend: backendName, Key: objectKey, Op: "download", Err: err}
	}
	return reader, meta, nil
}

// AttachmentURL returns a URL the browser can load the file from. Backends
// without their own URLs are served under the file URL prefix.
func (s *service) AttachmentURL(ctx context.Context, attachment *Attachment) string {
	if attachment.FilePath == "" {
		return ""
	}
	if store, err := s.getBlobStore(attachment.StorageBackendName); err == nil {
		if url, err := store.GetPreviewURL(ctx, attachment.FilePath); err == nil && url != "" {
			return url
		}
	}
	return fmt.Sprintf("%s/%s/%s", s.fileURLPrefix, attachment.StorageBackendName, attachment.FilePath)
}

// Meta operations

func (s *service) ListMeta(ctx context.Context, attachmentID int64) ([]MetaEntry, error) {
	entries, err := s.repository.ListMeta(ctx, attachmentID)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: attachmentID, Op: "list_meta", Err: err}
	}
	return entries, nil
}

func (s *service) AddMeta(ctx context.Context, attachmentID int64, key, value string) error {
	if _, err := s.repository.GetAttachment(ctx, attachmentID); err != nil {
		return &AttachmentError{AttachmentID: attachmentID, Op: "add_meta", Err: err}
	}
	if err := s.repository.AddMeta(ctx, attachmentID, key, value); err != nil {
		return &AttachmentError{AttachmentID: attachmentID, Op: "add_meta", Err: err}
	}
	return nil
}

// Replacement operations

// UploadReplacement stores a new file as a replacement draft of ParentID.
// Nothing is written unless the status override accepts the request.
func (s *service) UploadReplacement(ctx context.Context, req UploadReplacementRequest) (*Attachment, error) {
	if !req.Caller.Can(CapUploadFiles) {
		return nil, &AttachmentError{AttachmentID: req.ParentID, Op: "upload_replacement", Err: ErrForbidden}
	}
	if req.Reader == nil {
		return nil, &AttachmentError{AttachmentID: req.ParentID, Op: "upload_replacement", Err: ErrUploadFailed}
	}

	parent, err := s.repository.GetAttachment(ctx, req.ParentID)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: req.ParentID, Op: "upload_replacement", Err: err}
	}

	// The replacement starts as a copy of its parent and goes through the
	// generic insert path before the override is applied.
	fields := parent.Fields().Without(inheritedExcludedFields...)
	fields = NormalizeInsertStatus(fields)
	delete(fields, FieldFile)
	delete(fields, FieldStorageBackend)
	if req.MimeType != "" {
		fields[FieldMimeType] = req.MimeType
	} else {
		delete(fields, FieldMimeType)
	}

	fields = s.override.Apply(ctx, OverrideRequest{Caller: req.Caller, Token: req.Token}, fields)
	if Status(fields[FieldStatus]) != StatusReplacePending {
		return nil, &AttachmentError{AttachmentID: req.ParentID, Op: "upload_replacement", Err: ErrInvalidToken}
	}

	replacement := &Attachment{
		AuthorID: req.Caller.UserID,
		ParentID: parent.ID,
	}
	if err := replacement.ApplyFields(fields); err != nil {
		return nil, err
	}

	written, err := s.insert(ctx, replacement, req.StorageBackendName, req.FileName, req.Reader)
	if err != nil {
		s.hooks.executeOnError(ctx, OpUpload, err)
		return nil, err
	}

	// The bookkeeping key belongs to the parent only.
	if err := s.cloneMeta(ctx, parent.ID, replacement.ID, false, MetaKeyReplacementPending); err != nil {
		s.hooks.executeOnError(ctx, OpCloneMeta, err)
		return nil, err
	}

	if err := s.repository.AddMeta(ctx, parent.ID, MetaKeyReplacementPending, strconv.FormatInt(replacement.ID, 10)); err != nil {
		return nil, &AttachmentError{AttachmentID: parent.ID, Op: "add_meta", Err: err}
	}

	if err := s.hooks.executeAfterUpload(ctx, parent, replacement, written); err != nil {
		s.logger.WarnContext(ctx, "after upload hook failed", "replacement_id", replacement.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "replacement uploaded",
		"parent_id", parent.ID, "replacement_id", replacement.ID, "user_id", req.Caller.UserID)
	return replacement, nil
}

// ListPendingReplacements returns draft and pending replacements of parentID
func (s *service) ListPendingReplacements(ctx context.Context, parentID int64) ([]PendingReplacement, error) {
	children, err := s.repository.ListChildren(ctx, parentID, PendingListStatuses...)
	if err != nil {
		return nil, &AttachmentError{AttachmentID: parentID, Op: "list_pending", Err: err}
	}

	pending := make([]PendingReplacement, 0, len(children))
	for _, child := range children {
		uploader := "Unknown"
		if user, err := s.repository.GetUser(ctx, child.AuthorID); err == nil && user.DisplayName != "" {
			uploader = user.DisplayName
		}
		pending = append(pending, PendingReplacement{
			Attachment: child,
			Uploader:   uploader,
			URL:        s.AttachmentURL(ctx, child),
		})
	}
	return pending, nil
}

// DeleteReplacement permanently removes a replacement that will not be merged
func (s *service) DeleteReplacement(ctx context.Context, replacementID int64) error {
	replacement, err := s.repository.GetAttachment(ctx, replacementID)
	if err != nil {
		return &AttachmentError{AttachmentID: replacementID, Op: "delete_replacement", Err: err}
	}
	if !replacement.IsReplacement() {
		return &AttachmentError{AttachmentID: replacementID, Op: "delete_replacement", Err: ErrNotReplacement}
	}

	if err := s.purge(ctx, replacement, DeleteReasonRejected); err != nil {
		return err
	}

	err = s.repository.DeleteMetaValue(ctx, replacement.ParentID, MetaKeyReplacementPending, strconv.FormatInt(replacementID, 10))
	if err != nil && !errors.Is(err, ErrAttachmentNotFound) {
		return &AttachmentError{AttachmentID: replacement.ParentID, Op: "delete_meta", Err: err}
	}
	return nil
}

// Users

func (s *service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repository.GetUser(ctx, id)
}

func (s *service) SaveUser(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC()
	return s.repository.SaveUser(ctx, user)
}

// Tokens

func (s *service) IssueToken(ctx context.Context, purpose string, userID int64) (string, error) {
	return s.tokens.Issue(ctx, purpose, userID)
}

func (s *service) VerifyToken(ctx context.Context, token, purpose string, userID int64) (bool, error) {
	return s.tokens.Verify(ctx, token, purpose, userID)
}

// Helper methods

func (s *service) getBlobStore(name string) (BlobStore, error) {
	store, exists := s.blobStores[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStorageBackendNotFound, name)
	}
	return store, nil
}

// detectMimeType sniffs the head of reader and returns a reader that still
// yields every byte.
func detectMimeType(reader io.Reader) (io.Reader, string, error) {
	head := make([]byte, 3072)
	n, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	head = head[:n]
	return io.MultiReader(bytes.NewReader(head), reader), mimetype.Detect(head).String(), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func titleFromFileName(fileName string) string {
	base := path.Base(fileName)
	return strings.TrimSuffix(base, path.Ext(base))
}

func slugify(fileName string) string {
	title := strings.ToLower(titleFromFileName(fileName))
	var b strings.Builder
	dash := false
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
