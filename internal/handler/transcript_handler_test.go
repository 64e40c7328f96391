package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classlinker-chat/internal/dto"
	"github.com/noah-isme/classlinker-chat/internal/middleware"
	"github.com/noah-isme/classlinker-chat/internal/models"
	"github.com/noah-isme/classlinker-chat/internal/service"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
)

type transcriptServiceMock struct {
	createResp  *dto.TranscriptJobResponse
	createErr   error
	statusResp  *dto.TranscriptStatusResponse
	statusErr   error
	download    *service.TranscriptDownload
	downloadErr error

	gotRequest dto.TranscriptRequest
}

func (m *transcriptServiceMock) CreateJob(ctx context.Context, identity models.Identity, subjectID string, req dto.TranscriptRequest) (*dto.TranscriptJobResponse, error) {
	m.gotRequest = req
	return m.createResp, m.createErr
}

func (m *transcriptServiceMock) GetStatus(ctx context.Context, identity models.Identity, id string) (*dto.TranscriptStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *transcriptServiceMock) ResolveDownload(ctx context.Context, token string) (*service.TranscriptDownload, error) {
	return m.download, m.downloadErr
}

func withTeacher(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "5", Role: models.RoleTeacher, FullName: "Bu Sari"})
}

func TestTranscriptHandlerCreate(t *testing.T) {
	mock := &transcriptServiceMock{
		createResp: &dto.TranscriptJobResponse{ID: "job-1", Status: models.TranscriptStatusQueued},
	}
	h := NewTranscriptHandler(mock)

	payload, _ := json.Marshal(dto.TranscriptRequest{Format: models.TranscriptFormatPDF})
	c, w := newGinContext(http.MethodPost, "/subjects/42/chat/transcripts", payload)
	c.Params = gin.Params{{Key: "subjectId", Value: "42"}}
	withTeacher(c)

	h.Create(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.TranscriptFormatPDF, mock.gotRequest.Format)
}

func TestTranscriptHandlerCreateRejectsMalformedBody(t *testing.T) {
	h := NewTranscriptHandler(&transcriptServiceMock{})
	c, w := newGinContext(http.MethodPost, "/subjects/42/chat/transcripts", []byte("{"))
	c.Params = gin.Params{{Key: "subjectId", Value: "42"}}
	withTeacher(c)

	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscriptHandlerStatus(t *testing.T) {
	mock := &transcriptServiceMock{statusErr: appErrors.ErrForbidden}
	h := NewTranscriptHandler(mock)

	c, w := newGinContext(http.MethodGet, "/chat/transcripts/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	withTeacher(c)

	h.Status(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	mock.statusErr = nil
	mock.statusResp = &dto.TranscriptStatusResponse{ID: "job-1", Status: models.TranscriptStatusFinished, Progress: 100}
	c, w = newGinContext(http.MethodGet, "/chat/transcripts/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	withTeacher(c)

	h.Status(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTranscriptHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job-1.csv")
	require.NoError(t, os.WriteFile(path, []byte("#,Author\n1,Bu Sari\n"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	mock := &transcriptServiceMock{download: &service.TranscriptDownload{
		File:      file,
		Filename:  "chat-42.csv",
		Format:    models.TranscriptFormatCSV,
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	h := NewTranscriptHandler(mock)

	c, w := newGinContext(http.MethodGet, "/chat/transcripts/download/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="chat-42.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "#,Author\n1,Bu Sari\n", w.Body.String())
}

func TestTranscriptHandlerDownloadRejectsBadToken(t *testing.T) {
	h := NewTranscriptHandler(&transcriptServiceMock{downloadErr: appErrors.Clone(appErrors.ErrForbidden, "invalid download token")})
	c, w := newGinContext(http.MethodGet, "/chat/transcripts/download/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	h.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
