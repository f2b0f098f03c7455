// Package api serves the admin surface for replacing attachments: the
// replacement page, the async upload endpoint, the pending changes fragment
// for the edit screen and the approval endpoints.
package api

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/workflow"
)

const (
	// PageSlug selects the replacement page on upload.php
	PageSlug = "replace-file"
	// ActionSubmitApproval is the only action the replacement page accepts
	ActionSubmitApproval = "submit-approval"

	DefaultMaxUploadBytes int64 = 64 << 20
	DefaultAdminPrefix          = "/admin"

	// room for the multipart envelope around the file
	multipartOverhead = 1 << 20
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// AdminHandler handles the admin pages for replacement files
type AdminHandler struct {
	service        replacefiles.Service
	workflow       *workflow.Workflow
	validator      *Validator
	maxUploadBytes int64
	adminPrefix    string
	logger         *slog.Logger
}

// Option configures an AdminHandler
type Option func(*AdminHandler)

// WithMaxUploadBytes limits the size of uploaded files
func WithMaxUploadBytes(n int64) Option {
	return func(h *AdminHandler) {
		h.maxUploadBytes = n
	}
}

// WithAdminPrefix sets the path the handler is mounted at. Links and
// redirects are built under it.
func WithAdminPrefix(prefix string) Option {
	return func(h *AdminHandler) {
		h.adminPrefix = strings.TrimRight(prefix, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *AdminHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service replacefiles.Service, wf *workflow.Workflow, opts ...Option) *AdminHandler {
	h := &AdminHandler{
		service:        service,
		workflow:       wf,
		validator:      NewValidator(),
		maxUploadBytes: DefaultMaxUploadBytes,
		adminPrefix:    DefaultAdminPrefix,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the admin routes. They expect a caller on the request
// context, see CallerMiddleware.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/upload.php", h.UploadPage)
	r.Post("/upload.php", h.UploadPage)
	r.Post("/async-upload", h.AsyncUpload)
	r.Get("/attachments/{id}/fields", h.AttachmentFields)
	r.Post("/approvals/{id}/{decision}", h.Decide)

	return r
}

type uploadPageRequest struct {
	ID     int64  `json:"id" validate:"required,gt=0"`
	Action string `json:"action" validate:"omitempty,eq=submit-approval"`
	NewID  int64  `json:"new-id"`
	Token  string `json:"_token"`
}

type submitRequest struct {
	NewID int64 `json:"new-id" validate:"required,gt=0"`
}

type uploadPageData struct {
	Attachment    *replacefiles.Attachment
	FileName      string
	PageURL       string
	UploadURL     string
	OverrideToken string
	SubmitToken   string
	MaxUploadSize string
}

// UploadPage renders the replacement page for an attachment, or submits an
// uploaded replacement for approval when action=submit-approval.
func (h *AdminHandler) UploadPage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	caller, _ := CallerFromContext(r.Context())

	page := r.Form.Get("page")
	if page == "" && r.Form.Get("item") != "" {
		h.mediaItem(w, r, caller)
		return
	}
	if page != PageSlug {
		http.NotFound(w, r)
		return
	}

	req := uploadPageRequest{
		ID:     formInt(r.Form, "id"),
		Action: r.Form.Get("action"),
		NewID:  formInt(r.Form, "new-id"),
		Token:  r.Form.Get("_token"),
	}

	var verr *ValidationError
	if err := h.validator.Validate(req); err != nil && !errors.As(err, &verr) {
		writeError(w, r, h.logger, err)
		return
	}
	if verr != nil && verr.Has("id") {
		http.Error(w, "Missing ID parameter.", http.StatusBadRequest)
		return
	}
	if !caller.Can(replacefiles.CapUploadFiles) {
		http.Error(w, "Sorry, you are not allowed to access this page.", http.StatusForbidden)
		return
	}

	if req.Action != "" {
		if verr != nil && verr.Has("action") {
			http.Error(w, "Invalid action.", http.StatusBadRequest)
			return
		}
		h.submitApproval(w, r, caller, req)
		return
	}

	parent, err := h.service.GetAttachment(r.Context(), req.ID)
	if errors.Is(err, replacefiles.ErrAttachmentNotFound) {
		http.Error(w, "Sorry, you are not allowed to replace this file.", http.StatusForbidden)
		return
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	overrideToken, err := h.service.IssueToken(r.Context(), replacefiles.PurposeOverrideStatus, caller.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	submitToken, err := h.service.IssueToken(r.Context(), replacefiles.PurposeSubmitApproval, caller.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	fileName := parent.FileName()
	if fileName == "" {
		fileName = parent.Title
	}
	h.renderHTML(w, r, "upload", uploadPageData{
		Attachment:    parent,
		FileName:      fileName,
		PageURL:       h.pageURL(parent.ID),
		UploadURL:     h.adminPrefix + "/async-upload",
		OverrideToken: overrideToken,
		SubmitToken:   submitToken,
		MaxUploadSize: humanize.Bytes(uint64(h.maxUploadBytes)),
	})
}

func (h *AdminHandler) submitApproval(w http.ResponseWriter, r *http.Request, caller replacefiles.Caller, req uploadPageRequest) {
	ok, err := h.service.VerifyToken(r.Context(), req.Token, replacefiles.PurposeSubmitApproval, caller.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !ok {
		http.Error(w, "The link you followed has expired.", http.StatusForbidden)
		return
	}

	if err := h.validator.Validate(submitRequest{NewID: req.NewID}); err != nil {
		http.Error(w, "Missing new ID parameter.", http.StatusBadRequest)
		return
	}

	replacement, err := h.service.GetAttachment(r.Context(), req.NewID)
	if err != nil && !errors.Is(err, replacefiles.ErrAttachmentNotFound) {
		writeError(w, r, h.logger, err)
		return
	}
	if err != nil || !replacement.IsReplacement() {
		http.Error(w, "Invalid attachment ID.", http.StatusForbidden)
		return
	}

	if _, err := h.workflow.Submit(r.Context(), caller, replacement.ID); err != nil {
		if errors.Is(err, replacefiles.ErrForbidden) {
			http.Error(w, "Invalid attachment ID.", http.StatusForbidden)
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	q := url.Values{}
	q.Set("item", strconv.FormatInt(replacement.ParentID, 10))
	q.Set("replace_files_submitted", "1")
	http.Redirect(w, r, h.adminPrefix+"/upload.php?"+q.Encode(), http.StatusSeeOther)
}

type asyncUploadRequest struct {
	PostID int64  `json:"post_id" validate:"required_with=Token,gte=0"`
	Token  string `json:"replace_file"`
}

// UploadResponse describes a stored upload
type UploadResponse struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	FileName string `json:"filename"`
}

// AsyncUpload stores a multipart upload. With a replace_file token the file
// becomes a replacement draft of post_id, otherwise a plain attachment.
func (h *AdminHandler) AsyncUpload(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	if !caller.Can(replacefiles.CapUploadFiles) {
		http.Error(w, "Sorry, you are not allowed to upload files.", http.StatusForbidden)
		return
	}

	limit := h.maxUploadBytes + multipartOverhead
	if r.ContentLength > limit {
		h.tooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(w)
			return
		}
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := asyncUploadRequest{
		PostID: formInt(r.MultipartForm.Value, "post_id"),
		Token:  url.Values(r.MultipartForm.Value).Get("replace_file"),
	}
	if err := h.validator.Validate(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file.", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Size > h.maxUploadBytes {
		h.tooLarge(w)
		return
	}

	var attachment *replacefiles.Attachment
	if req.Token != "" {
		attachment, err = h.service.UploadReplacement(r.Context(), replacefiles.UploadReplacementRequest{
			Caller:   caller,
			ParentID: req.PostID,
			Token:    req.Token,
			FileName: header.Filename,
			Reader:   file,
		})
	} else {
		// post_id only names the original of a replacement.
		attachment, err = h.service.CreateAttachment(r.Context(), replacefiles.CreateAttachmentRequest{
			AuthorID: caller.UserID,
			FileName: header.Filename,
			Reader:   file,
		})
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	mediaType, _, _ := strings.Cut(attachment.MimeType, "/")
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadResponse{
		ID:       attachment.ID,
		URL:      h.service.AttachmentURL(r.Context(), attachment),
		Type:     mediaType,
		MimeType: attachment.MimeType,
		FileName: attachment.FileName(),
	})
}

func (h *AdminHandler) tooLarge(w http.ResponseWriter) {
	msg := fmt.Sprintf("File exceeds the maximum upload size of %s.", humanize.Bytes(uint64(h.maxUploadBytes)))
	http.Error(w, msg, http.StatusRequestEntityTooLarge)
}

type pendingItem struct {
	URL        string
	FileName   string
	MimeType   string
	IsImage    bool
	Uploader   string
	SubmitURL  string
	Awaiting   bool
	PreviewURL string
}

type fieldsData struct {
	ReplaceURL string
	Items      []pendingItem
}

// AttachmentFields renders the replace button and the pending changes of an
// attachment for its edit screen. Callers who cannot upload get no content.
func (h *AdminHandler) AttachmentFields(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid attachment ID", http.StatusBadRequest)
		return
	}

	caller, _ := CallerFromContext(r.Context())
	if !caller.Can(replacefiles.CapUploadFiles) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	parent, err := h.service.GetAttachment(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	data, err := h.fieldsData(r, caller, parent.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.renderHTML(w, r, "fields", data)
}

type itemData struct {
	Attachment *replacefiles.Attachment
	URL        string
	Submitted  bool
	Fields     fieldsData
}

// mediaItem shows a single attachment with its pending changes. Submitting a
// replacement for approval redirects here.
func (h *AdminHandler) mediaItem(w http.ResponseWriter, r *http.Request, caller replacefiles.Caller) {
	id := formInt(r.Form, "item")
	if err := h.validator.Var(id, "gt=0"); err != nil {
		http.Error(w, "Invalid attachment ID", http.StatusBadRequest)
		return
	}

	attachment, err := h.service.GetAttachment(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	data := itemData{
		Attachment: attachment,
		URL:        h.service.AttachmentURL(r.Context(), attachment),
		Submitted:  r.Form.Get("replace_files_submitted") != "",
	}
	if caller.Can(replacefiles.CapUploadFiles) {
		if data.Fields, err = h.fieldsData(r, caller, attachment.ID); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	h.renderHTML(w, r, "item", data)
}

func (h *AdminHandler) fieldsData(r *http.Request, caller replacefiles.Caller, parentID int64) (fieldsData, error) {
	data := fieldsData{ReplaceURL: h.pageURL(parentID)}

	pending, err := h.service.ListPendingReplacements(r.Context(), parentID)
	if err != nil {
		return data, err
	}
	for _, p := range pending {
		item := pendingItem{
			URL:      p.URL,
			FileName: p.Attachment.FileName(),
			MimeType: p.Attachment.MimeType,
			IsImage:  p.Attachment.IsImage(),
			Uploader: p.Uploader,
		}
		switch {
		case replacefiles.IsDraftLike(p.Attachment.Status):
			token, err := h.service.IssueToken(r.Context(), replacefiles.PurposeSubmitApproval, caller.UserID)
			if err != nil {
				return data, err
			}
			item.SubmitURL = h.submitURL(parentID, p.Attachment.ID, token)
		case p.Attachment.Status == replacefiles.StatusPending:
			item.Awaiting = true
			if caller.Can(replacefiles.CapPreviewAttachments) {
				item.PreviewURL = p.URL
			}
		}
		data.Items = append(data.Items, item)
	}
	return data, nil
}

type decisionRequest struct {
	ID       int64  `json:"id" validate:"required,gt=0"`
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
}

// DecisionResponse reports the outcome of an approval decision. Removed is
// set once the attachment no longer exists, merged or deleted by the
// workflow. A failed decision carries Error; the attachment is then either
// removed or back in pending.
type DecisionResponse struct {
	ID       int64               `json:"id"`
	ParentID int64               `json:"parent_id,omitempty"`
	Status   replacefiles.Status `json:"status"`
	Removed  bool                `json:"removed"`
	Error    string              `json:"error,omitempty"`
}

// Decide approves or rejects a pending attachment. What happens to an
// approved or rejected replacement is up to the workflow subscribers.
func (h *AdminHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	req := decisionRequest{ID: id, Decision: chi.URLParam(r, "decision")}
	if err := h.validator.Validate(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	caller, _ := CallerFromContext(r.Context())
	var (
		attachment *replacefiles.Attachment
		err        error
	)
	if req.Decision == "approve" {
		attachment, err = h.workflow.Approve(r.Context(), caller, req.ID)
	} else {
		attachment, err = h.workflow.Reject(r.Context(), caller, req.ID)
	}
	var decisionErr *workflow.DecisionError
	if err != nil && !errors.As(err, &decisionErr) {
		writeError(w, r, h.logger, err)
		return
	}

	resp := DecisionResponse{
		ID:       attachment.ID,
		ParentID: attachment.ParentID,
		Status:   attachment.Status,
	}
	if decisionErr == nil {
		_, getErr := h.service.GetAttachment(r.Context(), attachment.ID)
		resp.Removed = errors.Is(getErr, replacefiles.ErrAttachmentNotFound)
		render.JSON(w, r, resp)
		return
	}

	resp.Status = decisionErr.Status
	resp.Removed = decisionErr.Removed
	status := statusFor(decisionErr.Err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "decision failed", "attachment_id", attachment.ID, "error", decisionErr)
		resp.Error = "Internal server error"
	} else {
		resp.Error = decisionErr.Err.Error()
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func (h *AdminHandler) pageURL(id int64) string {
	q := url.Values{}
	q.Set("page", PageSlug)
	q.Set("id", strconv.FormatInt(id, 10))
	return h.adminPrefix + "/upload.php?" + q.Encode()
}

func (h *AdminHandler) submitURL(parentID, replacementID int64, token string) string {
	q := url.Values{}
	q.Set("page", PageSlug)
	q.Set("id", strconv.FormatInt(parentID, 10))
	q.Set("action", ActionSubmitApproval)
	q.Set("new-id", strconv.FormatInt(replacementID, 10))
	q.Set("_token", token)
	return h.adminPrefix + "/upload.php?" + q.Encode()
}

func (h *AdminHandler) renderHTML(w http.ResponseWriter, r *http.Request, name string, data interface{}) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// formInt returns the integer value of key, or 0 when it is missing or malformed
func formInt(values url.Values, key string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(values.Get(key)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
