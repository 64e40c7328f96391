package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classlinker-chat/internal/dto"
	"github.com/noah-isme/classlinker-chat/internal/models"
	"github.com/noah-isme/classlinker-chat/internal/service"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
	"github.com/noah-isme/classlinker-chat/pkg/response"
)

type transcriptManager interface {
	CreateJob(ctx context.Context, identity models.Identity, subjectID string, req dto.TranscriptRequest) (*dto.TranscriptJobResponse, error)
	GetStatus(ctx context.Context, identity models.Identity, id string) (*dto.TranscriptStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.TranscriptDownload, error)
}

// TranscriptHandler exposes chat transcript exports.
type TranscriptHandler struct {
	service transcriptManager
}

// NewTranscriptHandler constructs the handler.
func NewTranscriptHandler(service transcriptManager) *TranscriptHandler {
	return &TranscriptHandler{service: service}
}

// Create godoc
// @Summary Export a subject chat transcript
// @Tags Chat Transcripts
// @Accept json
// @Produce json
// @Param subjectId path string true "Subject ID"
// @Param payload body dto.TranscriptRequest true "Export format"
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /subjects/{subjectId}/chat/transcripts [post]
func (h *TranscriptHandler) Create(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrNotAuthenticated)
		return
	}
	var req dto.TranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transcript payload"))
		return
	}
	job, err := h.service.CreateJob(c.Request.Context(), identity, c.Param("subjectId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// Status godoc
// @Summary Transcript export status
// @Tags Chat Transcripts
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /chat/transcripts/{id} [get]
func (h *TranscriptHandler) Status(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrNotAuthenticated)
		return
	}
	status, err := h.service.GetStatus(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}

// Download godoc
// @Summary Download a finished transcript
// @Tags Chat Transcripts
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /chat/transcripts/download/{token} [get]
func (h *TranscriptHandler) Download(c *gin.Context) {
	download, err := h.service.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read transcript"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", download.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType(download.Format), download.File, nil)
}

func contentType(format models.TranscriptFormat) string {
	if format == models.TranscriptFormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}
