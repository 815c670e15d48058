package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/file-organizer/api/middleware"
	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/internal/pipeline"
	"github.com/feichai0017/file-organizer/internal/service/files"
	"github.com/feichai0017/file-organizer/pkg/logger"
)

type FileHandler struct {
	service files.FileOrganizer
	logger  logger.Logger
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Remaining and Requested are set on quota rejections.
	Remaining *int `json:"remaining,omitempty"`
	Requested *int `json:"requested,omitempty"`
}

type UploadedFile struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Size     int64           `json:"size"`
	MimeType string          `json:"mimeType"`
	Type     models.FileType `json:"type"`
}

type ProcessRequest struct {
	FileIDs []string `json:"fileIds" binding:"required"`
}

type ProcessResponse struct {
	SessionID  string                  `json:"sessionId"`
	TotalFiles int                     `json:"totalFiles"`
	Status     models.ProcessingStatus `json:"status"`
}

type GenerateFilenameRequest struct {
	Text         string `json:"text" binding:"required"`
	OriginalName string `json:"originalName"`
}

type GenerateFilenameResponse struct {
	SuggestedName string `json:"suggestedName"`
	Fallback      bool   `json:"fallback"`
}

func NewFileHandler(service files.FileOrganizer, logger logger.Logger) *FileHandler {
	return &FileHandler{
		service: service,
		logger:  logger.Named("handler"),
	}
}

// Upload stores the multipart "files" field.
func (h *FileHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, "Invalid form data", &pipeline.ValidationError{Field: "files", Message: err.Error()})
		return
	}

	records, err := h.service.Upload(c.Request.Context(), middleware.GetIdentity(c), form.File["files"])
	if err != nil {
		h.handleError(c, "Failed to upload files", err)
		return
	}

	out := make([]UploadedFile, len(records))
	for i, r := range records {
		out[i] = UploadedFile{ID: r.ID, Name: r.Name, Size: r.Size, MimeType: r.MimeType, Type: r.Type}
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("Uploaded %d files", len(out)),
		"files":   out,
	})
}

// Process submits a batch for processing.
func (h *FileHandler) Process(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, "Invalid request body", &pipeline.ValidationError{Field: "fileIds", Message: err.Error()})
		return
	}

	sess, err := h.service.Process(c.Request.Context(), middleware.GetIdentity(c), req.FileIDs)
	if err != nil {
		h.handleError(c, "Failed to start processing", err)
		return
	}

	c.JSON(http.StatusAccepted, ProcessResponse{
		SessionID:  sess.ID,
		TotalFiles: sess.TotalFiles,
		Status:     models.StatusProcessing,
	})
}

func (h *FileHandler) GetSession(c *gin.Context) {
	sess, err := h.service.GetSession(c.Request.Context(), middleware.GetIdentity(c), c.Param("sessionId"))
	if err != nil {
		h.handleError(c, "Failed to get session", err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *FileHandler) GetSessionFiles(c *gin.Context) {
	records, err := h.service.GetSessionFiles(c.Request.Context(), middleware.GetIdentity(c), c.Param("sessionId"))
	if err != nil {
		h.handleError(c, "Failed to get session files", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": records})
}

// DownloadReport returns the session report as a JSON attachment.
func (h *FileHandler) DownloadReport(c *gin.Context) {
	sessionID := c.Param("sessionId")
	_, data, err := h.service.GetReport(c.Request.Context(), middleware.GetIdentity(c), sessionID)
	if err != nil {
		h.handleError(c, "Failed to get report", err)
		return
	}

	filename := fmt.Sprintf("session_%s.json", sessionID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "application/json", data)
}

func (h *FileHandler) CancelSession(c *gin.Context) {
	sess, err := h.service.CancelSession(c.Request.Context(), middleware.GetIdentity(c), c.Param("sessionId"))
	if err != nil {
		h.handleError(c, "Failed to cancel session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Cancellation requested",
		"sessionId": sess.ID,
		"status":    sess.Status,
	})
}

func (h *FileHandler) GenerateFilename(c *gin.Context) {
	var req GenerateFilenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, "Invalid request body", &pipeline.ValidationError{Field: "text", Message: err.Error()})
		return
	}

	name, fallback, err := h.service.GenerateFilename(c.Request.Context(), req.Text, req.OriginalName)
	if err != nil {
		h.handleError(c, "Failed to generate filename", err)
		return
	}
	c.JSON(http.StatusOK, GenerateFilenameResponse{SuggestedName: name, Fallback: fallback})
}

func (h *FileHandler) GetUsage(c *gin.Context) {
	summary, err := h.service.GetUsage(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		h.handleError(c, "Failed to get usage", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		quotaErr *pipeline.QuotaExceededError
		validErr *pipeline.ValidationError
	)
	switch {
	case errors.As(err, &quotaErr):
		return http.StatusTooManyRequests
	case errors.As(err, &validErr):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrSessionNotFound), errors.Is(err, pipeline.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, pipeline.ErrSessionTerminal), errors.Is(err, pipeline.ErrFileBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *FileHandler) handleError(c *gin.Context, message string, err error) {
	status := StatusFor(err)
	log := logger.FromContext(c.Request.Context(), h.logger)
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Info(message, fields...)
	}

	response := ErrorResponse{Message: message, Error: err.Error()}
	var quotaErr *pipeline.QuotaExceededError
	if errors.As(err, &quotaErr) {
		remaining, requested := quotaErr.Remaining, quotaErr.Requested
		response.Remaining = &remaining
		response.Requested = &requested
	}
	if status >= http.StatusInternalServerError {
		response.Error = "internal error"
	}
	c.JSON(status, response)
}
