package http

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/api/chat"
	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/flow/timeoff"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/shared/id"
	"github.com/prezlab/nasma/backend/internal/shared/types"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

// Supporting documents the ERP accepts on a leave request.
var documentTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/heic",
	"image/heif",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

var errTooLarge = errors.New("file too large")

// readUpload reads the "file" form part, refusing anything over limit.
func readUpload(c *gin.Context, limit int64) (*multipart.FileHeader, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("file is required: %w", err)
	}
	if fh.Size > limit {
		return fh, nil, errTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return fh, nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return fh, nil, err
	}
	if int64(len(data)) > limit {
		return fh, nil, errTooLarge
	}
	return fh, data, nil
}

func uploadError(c *gin.Context, err error, limit int64) {
	if errors.Is(err, errTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d MB", limit>>20)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// acceptedDocument reports whether the detected type, or one of its
// parents, is on the allow list.
func acceptedDocument(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if mimetype.EqualsAny(m.String(), documentTypes...) {
			return true
		}
	}
	return false
}

// UploadDocument attaches a supporting document to the thread's open
// time-off request. Uploading the same file twice keeps one copy.
func (h *Handlers) UploadDocument(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	fh, data, err := readUpload(c, utils.MaxDocumentSize)
	if err != nil {
		uploadError(c, err, utils.MaxDocumentSize)
		return
	}
	detected := mimetype.Detect(data)
	if !acceptedDocument(detected) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": fmt.Sprintf("unsupported document type %s", detected.String()),
		})
		return
	}

	doc := types.Attachment{
		ID:       id.NewAttachmentID().String(),
		Name:     filepath.Base(fh.Filename),
		MimeType: detected.String(),
		Size:     int64(len(data)),
		Data:     base64.StdEncoding.EncodeToString(data),
		Checksum: h.hasher.Fingerprint(threadID, data),
	}
	if err := timeoff.AttachDocument(c.Request.Context(), h.sessions, threadID, doc); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no open time off request on this thread"})
			return
		}
		h.log.Error("attaching document failed", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if h.metrics != nil {
		h.metrics.DocumentGenerated("upload", nil)
	}
	h.log.Info("supporting document attached",
		zap.String("thread_id", threadID),
		zap.String("file", doc.Name),
		zap.String("mimetype", doc.MimeType),
		zap.Int64("size", doc.Size))

	doc.Data = ""
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "attachment": doc})
}

// UploadSheet loads an onboarding spreadsheet into the thread's new-user
// request. The caller's employee snapshot may ride along as a JSON form
// field named "employee".
func (h *Handlers) UploadSheet(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	if h.sheets == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "onboarding uploads are disabled"})
		return
	}
	fh, data, err := readUpload(c, utils.MaxSheetSize)
	if err != nil {
		uploadError(c, err, utils.MaxSheetSize)
		return
	}

	in := chat.Input{
		ThreadID: threadID,
		UserID:   c.GetHeader(HeaderUserID),
		TenantID: c.GetHeader(HeaderTenantID),
	}
	if raw := strings.TrimSpace(c.PostForm("employee")); raw != "" {
		var emp types.Employee
		if err := sonic.UnmarshalString(raw, &emp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "employee must be a JSON object"})
			return
		}
		in.Employee = &emp
	}

	ctx := c.Request.Context()
	req := flow.Request{ThreadID: threadID, Identity: h.chat.Identify(ctx, in.Claim())}
	resp, err := h.sheets.LoadSheet(ctx, req, filepath.Base(fh.Filename), data)
	if err != nil {
		h.log.Error("loading onboarding sheet failed", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if resp.ThreadID == "" {
		resp.ThreadID = threadID
	}
	c.Header(HeaderThreadID, resp.ThreadID)
	c.JSON(http.StatusOK, resp)
}
