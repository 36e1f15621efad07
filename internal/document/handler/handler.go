package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/regdocs/regdocs/internal/document"
	"github.com/regdocs/regdocs/internal/document/service"
	"github.com/regdocs/regdocs/pkg/logger"
)

// allowedExtensions lists the upload types accepted for version files.
var allowedExtensions = map[string]bool{".pdf": true, ".docx": true, ".doc": true}

const dateLayout = "2006-01-02"

// Options tunes the HTTP surface.
type Options struct {
	// MaxUploadBytes caps request bodies on upload routes; 0 means 50 MiB.
	MaxUploadBytes int64
	// PresignTTL, when set, makes downloads redirect to a presigned URL if the
	// content store can issue one.
	PresignTTL time.Duration
}

type handler struct {
	svc  service.Service
	opts Options
}

// RegisterDocumentRoutes mounts the document, version and indexer routes.
func RegisterDocumentRoutes(r gin.IRouter, svc service.Service, opts Options) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	h := &handler{svc: svc, opts: opts}

	docs := r.Group("/api/documents")
	docs.GET("", h.listDocuments)
	docs.POST("", h.createDocument)
	docs.GET("/:id", h.getDocument)
	docs.PATCH("/:id", h.updateDocument)
	docs.DELETE("/:id", h.deleteDocument)
	docs.GET("/:id/versions", h.listVersions)
	docs.POST("/:id/versions", h.appendVersion)
	docs.GET("/:id/current", h.getCurrent)
	docs.PUT("/:id/current", h.setCurrent)
	docs.GET("/:id/valid", h.validOn)

	versions := r.Group("/api/versions")
	versions.GET("/:id/download", h.download)
	versions.GET("/:id/index", h.indexStatus)
	versions.POST("/:id/index/started", h.indexStarted)
	versions.POST("/:id/index/indexed", h.indexed)
	versions.POST("/:id/index/failed", h.indexFailed)
	versions.POST("/:id/index/reindex", h.reindex)
}

// statusFor maps orchestrator error kinds to HTTP status codes.
func statusFor(err error) int {
	switch document.KindOf(err) {
	case document.KindValidation:
		return http.StatusBadRequest
	case document.KindDocumentNotFound, document.KindVersionNotFound:
		return http.StatusNotFound
	case document.KindInvalidStateTransition:
		return http.StatusUnprocessableEntity
	case document.KindStaleStateTransition:
		return http.StatusConflict
	case document.KindContentWriteFailed, document.KindContentInconsistency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if kind := document.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...), "kind": document.KindValidation})
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// today is the default validFrom for uploads that omit it.
func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func documentType(s string) document.DocumentType {
	if t, ok := document.ParseDocumentType(s); ok {
		return t
	}
	return document.DocumentType(strings.TrimSpace(s))
}

func (h *handler) listDocuments(c *gin.Context) {
	var f document.Filter
	f.Search = c.Query("search")
	if s := c.Query("type"); s != "" {
		f.Type = documentType(s)
	}
	if s := c.Query("active"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			badRequest(c, "active must be true or false")
			return
		}
		f.IsActive = &b
	}
	if s := c.Query("validOn"); s != "" {
		at, err := parseDate(s)
		if err != nil {
			badRequest(c, "%v", err)
			return
		}
		f.ValidOn = &at
	}
	docs, err := h.svc.ListDocuments(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// versionForm is the shared body of create and append requests, bound from
// either JSON or multipart form fields.
type versionForm struct {
	Title        string `json:"title" form:"title"`
	Type         string `json:"type" form:"type"`
	VersionLabel string `json:"versionLabel" form:"versionLabel"`
	ChangeNote   string `json:"changeNote" form:"changeNote"`
	ValidFrom    string `json:"validFrom" form:"validFrom"`
	ValidTo      string `json:"validTo" form:"validTo"`
	DocumentKey  string `json:"documentKey" form:"documentKey"`
	VersionKey   string `json:"versionKey" form:"versionKey"`
	MakeCurrent  *bool  `json:"makeCurrent" form:"makeCurrent"`

	validFrom time.Time
	validTo   *time.Time
	content   *service.Content
}

// bindVersionForm reads a multipart upload (file in the "file" field) or a
// JSON body without a file.
func (h *handler) bindVersionForm(c *gin.Context) (*versionForm, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	var f versionForm
	multipartBody := strings.HasPrefix(c.ContentType(), "multipart/")
	if multipartBody {
		if err := c.ShouldBind(&f); err != nil {
			h.bindFailed(c, err)
			return nil, false
		}
	} else if err := c.ShouldBindJSON(&f); err != nil {
		h.bindFailed(c, err)
		return nil, false
	}

	var err error
	f.validFrom = today()
	if strings.TrimSpace(f.ValidFrom) != "" {
		if f.validFrom, err = parseDate(f.ValidFrom); err != nil {
			badRequest(c, "validFrom: %v", err)
			return nil, false
		}
	}
	if f.validTo, err = parseOptionalDate(f.ValidTo); err != nil {
		badRequest(c, "validTo: %v", err)
		return nil, false
	}

	if multipartBody {
		fh, err := c.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			h.bindFailed(c, err)
			return nil, false
		default:
			content, err := readUpload(fh)
			if err != nil {
				h.bindFailed(c, err)
				return nil, false
			}
			f.content = content
		}
	}
	return &f, true
}

func (h *handler) bindFailed(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	// multipart parsing does not always wrap the reader error
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", h.opts.MaxUploadBytes)})
		return
	}
	var unsupported unsupportedTypeError
	if errors.As(err, &unsupported) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	}
	badRequest(c, "%v", err)
}

type unsupportedTypeError string

func (e unsupportedTypeError) Error() string {
	return fmt.Sprintf("file type %q is not allowed, use .pdf, .docx or .doc", string(e))
}

func readUpload(fh *multipart.FileHeader) (*service.Content, error) {
	name := path.Base(strings.ReplaceAll(fh.Filename, "\\", "/"))
	ext := strings.ToLower(path.Ext(name))
	if !allowedExtensions[ext] {
		return nil, unsupportedTypeError(ext)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &service.Content{Data: data, FileName: name, ContentType: mime.TypeByExtension(ext)}, nil
}

func (h *handler) createDocument(c *gin.Context) {
	f, ok := h.bindVersionForm(c)
	if !ok {
		return
	}
	doc, err := h.svc.CreateDocument(c.Request.Context(), service.CreateDocumentRequest{
		Title:        f.Title,
		Type:         documentType(f.Type),
		VersionLabel: f.VersionLabel,
		ChangeNote:   f.ChangeNote,
		ValidFrom:    f.validFrom,
		ValidTo:      f.validTo,
		Content:      f.content,
		DocumentKey:  f.DocumentKey,
		VersionKey:   f.VersionKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *handler) appendVersion(c *gin.Context) {
	f, ok := h.bindVersionForm(c)
	if !ok {
		return
	}
	v, err := h.svc.AppendVersion(c.Request.Context(), service.AppendVersionRequest{
		DocumentID:   c.Param("id"),
		VersionLabel: f.VersionLabel,
		ChangeNote:   f.ChangeNote,
		ValidFrom:    f.validFrom,
		ValidTo:      f.validTo,
		Content:      f.content,
		VersionKey:   f.VersionKey,
		MakeCurrent:  f.MakeCurrent,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *handler) getDocument(c *gin.Context) {
	doc, err := h.svc.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *handler) updateDocument(c *gin.Context) {
	var req struct {
		Title    *string `json:"title"`
		Type     *string `json:"type"`
		IsActive *bool   `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "%v", err)
		return
	}
	upd := service.UpdateDocumentRequest{Title: req.Title, IsActive: req.IsActive}
	if req.Type != nil {
		t := documentType(*req.Type)
		upd.Type = &t
	}
	doc, err := h.svc.UpdateDocument(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *handler) deleteDocument(c *gin.Context) {
	if err := h.svc.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listVersions(c *gin.Context) {
	vs, err := h.svc.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vs)
}

func (h *handler) getCurrent(c *gin.Context) {
	v, err := h.svc.GetCurrentVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document has no current version"})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) setCurrent(c *gin.Context) {
	var req struct {
		VersionID string `json:"versionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "%v", err)
		return
	}
	v, err := h.svc.SetCurrentVersion(c.Request.Context(), c.Param("id"), req.VersionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) validOn(c *gin.Context) {
	on := c.Query("on")
	if on == "" {
		badRequest(c, "query parameter on is required")
		return
	}
	at, err := parseDate(on)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	vs, err := h.svc.GetVersionsValidOn(c.Request.Context(), c.Param("id"), at)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vs)
}

func (h *handler) download(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if h.opts.PresignTTL > 0 {
		url, err := h.svc.DownloadURL(ctx, id, h.opts.PresignTTL)
		if err != nil {
			writeError(c, err)
			return
		}
		if url != "" {
			c.Redirect(http.StatusTemporaryRedirect, url)
			return
		}
	}

	blob, err := h.svc.DownloadBlob(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if blob == nil {
		c.Status(http.StatusNoContent)
		return
	}
	contentType := blob.Ref.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(path.Ext(blob.Ref.FileName)))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": blob.Ref.FileName}))
	if blob.Ref.SHA256 != "" {
		c.Header("ETag", strconv.Quote(blob.Ref.SHA256))
	}
	c.Data(http.StatusOK, contentType, blob.Data)
}

func (h *handler) indexStatus(c *gin.Context) {
	st, err := h.svc.GetIndexStatus(c.Request.Context(), c.Param("id"))
	h.writeState(c, st, err)
}

func (h *handler) indexStarted(c *gin.Context) {
	st, err := h.svc.NotifyIndexingStarted(c.Request.Context(), c.Param("id"))
	h.writeState(c, st, err)
}

func (h *handler) indexed(c *gin.Context) {
	var req struct {
		IndexedAt *time.Time `json:"indexedAt"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "%v", err)
			return
		}
	}
	var at time.Time
	if req.IndexedAt != nil {
		at = *req.IndexedAt
	}
	st, err := h.svc.NotifyIndexed(c.Request.Context(), c.Param("id"), at)
	h.writeState(c, st, err)
}

func (h *handler) indexFailed(c *gin.Context) {
	var req struct {
		Error string `json:"error"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "%v", err)
		return
	}
	st, err := h.svc.NotifyFailed(c.Request.Context(), c.Param("id"), req.Error)
	h.writeState(c, st, err)
}

func (h *handler) reindex(c *gin.Context) {
	st, err := h.svc.RequestReindex(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (h *handler) writeState(c *gin.Context, st document.IndexState, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
